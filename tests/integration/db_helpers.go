package integration

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const postgresImage = "postgres:13-alpine"

// TestDBInstance menyimpan detail instance database untuk test.
type TestDBInstance struct {
	Container testcontainers.Container
	DSN       string
	Dialect   string
	DB        *gorm.DB
	Host      string
	Port      nat.Port
	Username  string
	Password  string
	DBName    string
}

// mustPortInt adalah helper untuk mengkonversi nat.Port ke int.
func mustPortInt(t *testing.T, port nat.Port) int {
	t.Helper()
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Failed to convert port %s to int: %v", port.Port(), err)
	}
	return p
}

// startPostgresContainer memulai kontainer PostgreSQL untuk test.
func startPostgresContainer(ctx context.Context, t *testing.T) *TestDBInstance {
	t.Helper()
	dbName := "testwarehouse"
	dbUser := "testwhuser"
	dbPassword := "testwhpass"

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       dbName,
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %s", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get postgres container host: %s", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port for postgres: %s", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=10",
		host, mappedPort.Port(), dbUser, dbPassword, dbName)

	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to test postgres instance: %s", err)
	}

	t.Logf("PostgreSQL container started. Host: %s, Port: %s", host, mappedPort.Port())

	return &TestDBInstance{
		Container: container,
		DSN:       dsn,
		Dialect:   "postgres",
		DB:        gormDB,
		Host:      host,
		Port:      mappedPort,
		Username:  dbUser,
		Password:  dbPassword,
		DBName:    dbName,
	}
}

// stopContainer menghentikan dan menghapus kontainer test.
func stopContainer(ctx context.Context, t *testing.T, instance *TestDBInstance) {
	t.Helper()
	if instance == nil {
		return
	}
	if instance.DB != nil {
		sqlDB, _ := instance.DB.DB()
		if sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				t.Logf("Warning: error closing GORM DB connection for %s: %v", instance.Dialect, err)
			}
		}
	}
	if instance.Container != nil {
		// Beri sedikit waktu untuk koneksi ditutup sebelum terminate
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		if err := instance.Container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container for %s: %s", instance.Dialect, err)
		} else {
			t.Logf("%s container terminated successfully.", instance.Dialect)
		}
	}
}
