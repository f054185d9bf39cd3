package httpapi

import (
	"time"

	"github.com/ftlframe/auto-pgp/internal/session"
)

type Config struct {
	Addr            string
	VaultDir        string
	MongoURI        string
	MongoDB         string
	MongoCollection string
	AutoLock        time.Duration
	// PendingPolicy is "replace" or "reject"; see ops.PendingPolicy.
	PendingPolicy string
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8420"
	}
	if c.VaultDir == "" {
		c.VaultDir = "./vault"
	}
	if c.MongoDB == "" {
		c.MongoDB = "autopgp"
	}
	if c.MongoCollection == "" {
		c.MongoCollection = "kv"
	}
	if c.AutoLock == 0 {
		c.AutoLock = session.DefaultAutoLock
	}
	if c.PendingPolicy == "" {
		c.PendingPolicy = "replace"
	}
}
