package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/blockchainkit/blockchainkit/server"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("blockchainkit", "BlockchainKit marketing site and developer dashboard backend")
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload www instead of embedding into binary", Default: false})
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "blockchainkit.json"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		panic(err)
	}
	cfg, err := server.LoadConfig(*configFilePath)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	s, err := server.NewServer(logger, cfg)
	if err != nil {
		panic(err)
	}
	s.HotReloadWWW = *hotReloadWWW
	s.ListenForKillSignals()
	if err := s.ListenHTTP(s.HTTPAddr()); err != nil {
		fmt.Printf("%v\n", err)
	}
}
