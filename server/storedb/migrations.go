package storedb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE user(
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			email TEXT NOT NULL,
			api_key TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_user_username ON user (username);
		CREATE UNIQUE INDEX idx_user_email ON user (email);
		CREATE UNIQUE INDEX idx_user_api_key ON user (api_key);

		CREATE TABLE session(
			key BLOB PRIMARY KEY,
			user_id INT NOT NULL,
			created_at INT NOT NULL,
			expires_at INT
		);
		CREATE INDEX idx_session_user_id ON session (user_id);
		CREATE INDEX idx_session_expires_at ON session (expires_at);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE blog_post(
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			excerpt TEXT NOT NULL,
			content TEXT NOT NULL,
			author_id INT NOT NULL,
			category TEXT NOT NULL,
			published_at INT NOT NULL,
			is_published BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX idx_blog_post_published_at ON blog_post (published_at);

		CREATE TABLE api_usage(
			id INTEGER PRIMARY KEY,
			user_id INT NOT NULL,
			endpoint TEXT NOT NULL,
			request_count INT NOT NULL DEFAULT 1,
			date INT NOT NULL
		);
		CREATE INDEX idx_api_usage_user_id ON api_usage (user_id);
	`))

	return migs
}
