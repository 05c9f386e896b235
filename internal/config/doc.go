// Package config provides loading and environment overlay for persist
// configuration. It exposes a Default() baseline, an optional JSON file, and
// a PERSIST_* env overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/persist.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	shard, _ := persist.Open(persist.ShardOptions{Name: "orders", Blob: b, Meta: m, Config: cfg})
package config
