package datastore

import (
	"net"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"

	"github.com/tphakala/safetynet-go/internal/logger"
)

// MySQLConfig holds MySQL connection settings.
type MySQLConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// DSN builds the driver connection string.
func (c MySQLConfig) DSN() string {
	cfg := gomysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func openMySQL(cfg MySQLConfig, log logger.Logger) (*Store, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, validationError("mysql host and database are required", "mysql")
	}
	return openMySQLDSN(cfg.DSN(), net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), log)
}

func openMySQLDSN(dsn, addr string, log logger.Logger) (*Store, error) {
	store, err := newStore(mysql.Open(dsn), "mysql", log)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := store.db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	log.Info("opened mysql database", logger.String("addr", addr))
	return store, nil
}
