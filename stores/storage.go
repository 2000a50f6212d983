package stores

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"wallora-server/config"
	"wallora-server/core"
	"wallora-server/stores/aws"
	"wallora-server/stores/filesystem"
	"wallora-server/stores/memory"
	"wallora-server/stores/redis"
	"wallora-server/stores/sqlite"
)

// Store is the session store every backend provides. Backends may also
// implement core.RoomRegistry and core.SnapshotStore; callers discover those
// with a type assertion.
type Store interface {
	core.SessionStore
}

// GetStore builds the backend selected by cfg.Type.
func GetStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		store Store
		err   error
	)

	storageField := logrus.Fields{
		"storageType": cfg.Type,
	}

	switch cfg.Type {
	case "filesystem":
		storageField["basePath"] = cfg.Path
		store, err = filesystem.NewStore(cfg.Path)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DSN
		var s interface {
			Store
			SetMaxSnapshots(int)
		}
		s, err = sqlite.NewStore(cfg.DSN)
		if err == nil {
			s.SetMaxSnapshots(cfg.MaxSnapshots)
			store = s
		}
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("storage.bucket must be set for s3 storage")
		}
		storageField["bucketName"] = cfg.Bucket
		store, err = aws.NewStore(ctx, cfg.Bucket, cfg.Endpoint)
	case "redis":
		storageField["redisAddr"] = cfg.RedisAddr
		store, err = redis.NewStore(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	case "memory", "":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Type, err)
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
