package eventhub

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/blockchainkit/blockchainkit/pkg/rando"
	"github.com/cyclopcam/logs"
)

// Well-known channel names. Clients may subscribe to any string; channels that
// no source publishes to simply never receive events.
const (
	ChannelBlocks       = "blocks"
	ChannelTransactions = "transactions"
)

type Event struct {
	Channel string
	Data    any
}

// EventSource is the upstream feed of domain events. The simulated source
// below stands in for a real blockchain node; swapping in a real feed means
// implementing this interface, nothing else.
type EventSource interface {
	// Events is the stream the hub broadcasts from. Closed by Stop.
	Events() <-chan Event
	// Snapshot returns the channel's current state, sent to a connection on
	// its first subscription so it isn't left waiting for the next event.
	Snapshot(channel string) any
	Stop()
}

// SYNC-RECORD-BLOCK
type Block struct {
	Number     int64  `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	TxCount    int    `json:"txCount"`
	GasUsed    int64  `json:"gasUsed"`
}

// SYNC-RECORD-TRANSACTION
type Transaction struct {
	Hash        string `json:"hash"`
	BlockNumber int64  `json:"blockNumber"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"` // wei, as a decimal string
}

// SimulatedChain synthesizes a new block on a fixed interval, and publishes it
// to the "blocks" channel. It also fabricates the block's transactions, which
// back the "transactions" snapshot.
type SimulatedChain struct {
	log    logs.Log
	events chan Event
	stop   chan bool

	lock      sync.Mutex
	latest    Block
	recentTxs []Transaction
}

func NewSimulatedChain(logger logs.Log, interval time.Duration) *SimulatedChain {
	c := &SimulatedChain{
		log:    logger,
		events: make(chan Event, 16),
		stop:   make(chan bool),
	}
	c.mineBlock()
	go c.run(interval)
	return c
}

func (c *SimulatedChain) Events() <-chan Event {
	return c.events
}

func (c *SimulatedChain) Snapshot(channel string) any {
	c.lock.Lock()
	defer c.lock.Unlock()
	switch channel {
	case ChannelBlocks:
		return c.latest
	case ChannelTransactions:
		txs := make([]Transaction, len(c.recentTxs))
		copy(txs, c.recentTxs)
		return txs
	default:
		return map[string]any{}
	}
}

func (c *SimulatedChain) Stop() {
	close(c.stop)
}

func (c *SimulatedChain) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			close(c.events)
			return
		case <-ticker.C:
			block := c.mineBlock()
			select {
			case c.events <- Event{Channel: ChannelBlocks, Data: block}:
			default:
				// Hub has stalled. Drop the block rather than block the clock.
			}
		}
	}
}

func (c *SimulatedChain) mineBlock() Block {
	c.lock.Lock()
	defer c.lock.Unlock()
	block := Block{
		Number:     c.latest.Number + 1,
		Hash:       "0x" + rando.StrongRandomHex(32),
		ParentHash: c.latest.Hash,
		Timestamp:  time.Now().UnixMilli(),
		TxCount:    5 + rand.Intn(200),
		GasUsed:    5_000_000 + rand.Int63n(25_000_000),
	}
	if block.ParentHash == "" {
		block.ParentHash = "0x" + rando.StrongRandomHex(32)
	}
	txs := make([]Transaction, 0, 5)
	for i := 0; i < 5; i++ {
		txs = append(txs, Transaction{
			Hash:        "0x" + rando.StrongRandomHex(32),
			BlockNumber: block.Number,
			From:        "0x" + rando.StrongRandomHex(20),
			To:          "0x" + rando.StrongRandomHex(20),
			Value:       strconv.FormatInt(rand.Int63n(10_000_000_000)+1, 10),
		})
	}
	c.latest = block
	c.recentTxs = txs
	return block
}
