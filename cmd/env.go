package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/grmlab/gramscope/internal/utils"
	"github.com/grmlab/gramscope/pkg/authflow"
	"github.com/grmlab/gramscope/pkg/imagecache"
	"github.com/grmlab/gramscope/pkg/remote/gateway"
	"github.com/grmlab/gramscope/pkg/storage"
	"github.com/grmlab/gramscope/pkg/syncer"
)

// app bundles the wired application pieces shared by the serve, login and
// sync commands.
type app struct {
	db     *storage.DB
	lock   *utils.DBLock
	flow   *authflow.Flow
	syncer *syncer.Syncer
	images *imagecache.Cache
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.lock != nil {
		a.lock.Unlock()
	}
}

// buildApp opens the database (taking the cross-process lock) and wires the
// auth flow, syncer and image cache from viper config.
// configuredDBPath resolves the database path from the --dbpath flag, falling
// back to the db.path config key.
func configuredDBPath() string {
	if p, _ := rootCmd.PersistentFlags().GetString("dbpath"); p != "" {
		return p
	}
	return viper.GetString("db.path")
}

func buildApp() (*app, error) {
	dbPath := configuredDBPath()
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, err
	}

	db, err := storage.Open(absPath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	proxy, _ := rootCmd.PersistentFlags().GetString("proxy")
	dialer := &gateway.Dialer{
		BaseURL: viper.GetString("gateway.url"),
		Proxy:   proxy,
	}

	cipher, err := sessionCipher()
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	flow := authflow.New(authflow.NewChallengeStore(), dialer, cipher, utils.Log)

	imagesDir, err := utils.GetImagesDir(viper.GetString("images.dir"))
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}
	images, err := imagecache.New(imagesDir, utils.Log)
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	sy := syncer.New(db, flow, syncer.NewRegistry(), images, syncer.Config{
		Cooldown:    time.Duration(viper.GetInt("sync.cooldown_hours")) * time.Hour,
		MaxPerFetch: viper.GetInt("sync.max_per_fetch"),
		MinDelay:    time.Duration(viper.GetInt("sync.min_delay_seconds")) * time.Second,
		MaxDelay:    time.Duration(viper.GetInt("sync.max_delay_seconds")) * time.Second,
	}, utils.Log)

	return &app{db: db, lock: lock, flow: flow, syncer: sy, images: images}, nil
}

// sessionCipher picks the session blob cipher: AES-GCM keyed from the JWT
// secret when one is configured, plain base64 otherwise.
func sessionCipher() (authflow.Cipher, error) {
	if secret := viper.GetString("server.jwt_secret"); secret != "" {
		return authflow.NewAESCipher(secret)
	}
	utils.Log.Warn("server.jwt_secret not set, session blobs will be stored unencrypted")
	return authflow.Base64Cipher{}, nil
}
