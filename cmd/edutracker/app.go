package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"edu-tracker/internal/ai"
	"edu-tracker/internal/cloud"
	"edu-tracker/internal/config"
	"edu-tracker/internal/repository"
	"edu-tracker/internal/service"
	"edu-tracker/internal/timer"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg      config.Config
	db       *gorm.DB
	events   *service.Events
	users    *repository.UserRepository
	tasks    *service.TaskService
	courses  *service.CourseService
	rewards  *service.RewardService
	badges   *service.BadgeService
	reports  *service.ReportService
	backup   *service.BackupService
	sync     *service.SyncService
	sessions *service.SessionService
	closers  []func()
}

// newApp opens storage and builds the services. base bounds every timer
// session started through the app.
func newApp(base context.Context, cfg config.Config) (*app, error) {
	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a := &app{cfg: cfg, db: db, events: service.NewEvents()}
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store, err := a.snapshotStore(base)
	if err != nil {
		a.Close()
		return nil, err
	}

	var uploader service.Uploader
	if cfg.S3Bucket != "" {
		s3, err := cloud.NewS3Uploader(base, cloud.Options{
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("cloud: %w", err)
		}
		uploader = s3
		log.Printf("[info] cloud backup to bucket %s", cfg.S3Bucket)
	}

	gen := ai.New(cfg.AIKey, cfg.AIModel, cfg.AIEndpoint)
	if !gen.Configured() {
		log.Println("[warn] AI_API_KEY is empty, reports will use the fallback text")
	}

	a.users = repository.NewUserRepository(db)
	a.tasks = service.NewTaskService(db, store, a.events)
	a.courses = service.NewCourseService(a.tasks)
	a.rewards = service.NewRewardService(a.tasks)
	a.badges = service.NewBadgeService(db, a.events, cfg.MasteryCourse)
	a.reports = service.NewReportService(a.tasks, a.courses, gen)
	a.backup = service.NewBackupService(a.tasks)
	a.sync = service.NewSyncService(a.backup, uploader, a.events)
	a.sessions = service.NewSessionService(base, a.tasks, store, a.events, timer.WithInterval(cfg.TickInterval))
	return a, nil
}

func (a *app) snapshotStore(ctx context.Context) (timer.SnapshotStore, error) {
	switch a.cfg.SnapshotBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		log.Printf("[info] timer snapshots in redis at %s", a.cfg.RedisAddr)
		return repository.NewRedisSnapshotStore(client), nil
	case config.BackendMemory:
		log.Println("[warn] timer snapshots kept in memory, sessions will not survive a restart")
		return timer.NewMemoryStore(), nil
	default:
		return repository.NewSnapshotRepository(a.db), nil
	}
}

// Close stops sessions, waits for uploads and releases connections.
func (a *app) Close() {
	if a.sessions != nil {
		a.sessions.Shutdown()
	}
	if a.sync != nil {
		a.sync.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
