package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"gear_checkout/config"
	"gear_checkout/db"
	"gear_checkout/lifecycle"
	"gear_checkout/memstore"
	"gear_checkout/models"
	"gear_checkout/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// short aliases for handlers
type Ctx = gin.Context
type H = gin.H

// Users is the user repository the HTTP layer needs. db.Repo and
// memstore.Store both satisfy it.
type Users interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context, q string, page, size int) ([]models.User, int64, error)
	SetUserRole(ctx context.Context, id string, role models.Role) error
	SetUserActive(ctx context.Context, id string, active bool) error
	TouchUserSeen(ctx context.Context, id string) error
	CountAdmins(ctx context.Context) (int64, error)
}

// Passkeys stores invites and registered WebAuthn credentials.
type Passkeys interface {
	CreateInvite(ctx context.Context, inv *models.Invite) error
	GetInvite(ctx context.Context, token string) (*models.Invite, error)
	MarkInviteUsed(ctx context.Context, token string) error
	AddCredential(ctx context.Context, c *models.Credential) error
	ListCredentials(ctx context.Context, userID string) ([]models.Credential, error)
	FindCredential(ctx context.Context, credentialID []byte) (*models.Credential, error)
	TouchCredential(ctx context.Context, credentialID []byte, signCount uint32, cloneWarning bool) error
}

var (
	_ Users    = (*db.Repo)(nil)
	_ Users    = (*memstore.Store)(nil)
	_ Passkeys = (*db.Repo)(nil)
	_ Passkeys = (*memstore.Store)(nil)
)

// App bundles the dependencies shared by routes and the CLI.
type App struct {
	Router   *gin.Engine
	DB       *gorm.DB      // nil with the memory driver
	RDB      *redis.Client // nil with the memory driver
	Store    lifecycle.Store
	Users    Users
	Engine   *lifecycle.Engine
	Sessions session.Store
	Config   config.Config

	WA         *webauthn.WebAuthn
	Passkeys   Passkeys
	Ceremonies session.Ceremonies
}

// Deps are the storage pieces an App is assembled from.
type Deps struct {
	Store      lifecycle.Store
	Users      Users
	Passkeys   Passkeys
	Sessions   session.Store
	Ceremonies session.Ceremonies
	Backlog    lifecycle.Backlog
	DB         *gorm.DB
	RDB        *redis.Client
}

// Open connects the storage selected by cfg.StoreDriver.
func Open(cfg config.Config) (Deps, error) {
	if cfg.StoreDriver == "memory" {
		ms := memstore.New()
		return Deps{
			Store:      ms,
			Users:      ms,
			Passkeys:   ms,
			Sessions:   session.NewMemoryStore(cfg.SessionTTL),
			Ceremonies: session.NewMemoryCeremonies(cfg.CeremonyTTL),
			Backlog:    lifecycle.NewMemoryBacklog(),
		}, nil
	}

	conn, err := db.ConnectDB(cfg.DSN(), cfg.ConnectTries)
	if err != nil {
		return Deps{}, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return Deps{}, fmt.Errorf("redis: %w", err)
	}
	repo := db.NewRepo(conn)
	return Deps{
		Store:      repo,
		Users:      repo,
		Passkeys:   repo,
		Sessions:   session.NewAppSessionStore(rdb, cfg.SessionTTL),
		Ceremonies: session.NewRedisCeremonies(rdb, cfg.CeremonyTTL),
		Backlog:    session.NewRedisBacklog(rdb),
		DB:         conn,
		RDB:        rdb,
	}, nil
}

// NewEngine wires the lifecycle engine the way the server and CLI use it.
func NewEngine(cfg config.Config, d Deps) *lifecycle.Engine {
	opts := []lifecycle.Option{lifecycle.WithBacklog(d.Backlog)}
	if cfg.MetricsEnabled {
		opts = append(opts, lifecycle.WithObserver(Metrics{}))
	}
	return lifecycle.New(d.Store, opts...)
}

func New(cfg config.Config, d Deps) *App {
	r := gin.Default()
	useCORS(r, cfg.WebOrigin)

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.Origins(),
	})
	if err != nil {
		log.Fatalf("webauthn: %v", err)
	}
	if d.Ceremonies == nil {
		d.Ceremonies = session.NewMemoryCeremonies(cfg.CeremonyTTL)
	}
	return &App{
		Router:     r,
		DB:         d.DB,
		RDB:        d.RDB,
		Store:      d.Store,
		Users:      d.Users,
		Engine:     NewEngine(cfg, d),
		Sessions:   d.Sessions,
		Config:     cfg,
		WA:         wa,
		Passkeys:   d.Passkeys,
		Ceremonies: d.Ceremonies,
	}
}

func MustNew(cfg config.Config) *App {
	d, err := Open(cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	return New(cfg, d)
}

func (a *App) Close() {
	if a.RDB != nil {
		_ = a.RDB.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
