// cmd/wsrpc-server — WebSocket RPC 服务主入口 (auth + localdb 端点)。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/multi-agent/wsrpc/internal/config"
	"github.com/multi-agent/wsrpc/internal/database"
	"github.com/multi-agent/wsrpc/internal/idgen"
	"github.com/multi-agent/wsrpc/internal/rpc"
	"github.com/multi-agent/wsrpc/internal/service/auth"
	"github.com/multi-agent/wsrpc/internal/service/localdb"
	"github.com/multi-agent/wsrpc/internal/telemetry"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

var version = "dev"

var (
	configFile    string
	logLevel      string
	port          int
	acceptService string
	exposeDB      bool
)

var rootCmd = &cobra.Command{
	Use:          "wsrpc-server",
	Short:        "WebSocket RPC server",
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "配置文件 (JSON/YAML/TOML)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "覆盖配置中的日志级别")
	rootCmd.Flags().IntVar(&port, "port", -1, "覆盖配置中的端口")
	rootCmd.Flags().StringVar(&acceptService, "accept-service", "auth", "authorize 接受的服务名")
	rootCmd.Flags().BoolVar(&exposeDB, "expose-db", false, "注册 localdb 查询端点 (40010)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("wsrpc server exited", logger.FieldError, err, logger.FieldCode, pkgerr.CodeOf(err))
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	service, err := auth.ParseService(acceptService)
	if err != nil {
		return err
	}

	if cfg.LogDir != "" {
		err = logger.InitWithFile(cfg.LogLevel, cfg.LogDir, cfg.Name)
		defer logger.ShutdownFileHandler()
	} else {
		err = logger.Init(cfg.LogLevel)
	}
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(telemetry.Options{
		Exporter:    cfg.TraceExporter,
		ServiceName: cfg.Name,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", logger.FieldError, err)
		}
	}()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	if cfg.MigrationsDir != "" {
		m, ok := db.(database.Migrator)
		if !ok {
			return pkgerr.WithCode(pkgerr.ErrInvalidInput, "Server.Migrate", config.CodeConfig,
				"db backend "+cfg.DBBackend+" does not support migrations")
		}
		if _, err := database.Migrate(ctx, m, cfg.MigrationsDir); err != nil {
			return err
		}
	}

	ids, err := idgen.New(cfg.ServiceID)
	if err != nil {
		return err
	}

	srv := rpc.NewServer(cfg, nil)
	if db != nil {
		srv.SetDB(db)
	}
	ctrl := rpc.NewEndpointAuthController(srv.Toolbox())
	srv.SetAuthController(ctrl)
	auth.Register(srv, ctrl, auth.NewHandlers(ids, service))
	if exposeDB {
		if db == nil {
			logger.Warn("localdb endpoint requested without database; skipped")
		} else {
			localdb.Register(srv)
		}
	}

	logger.Info("wsrpc server starting",
		logger.FieldAddr, cfg.Addr(),
		logger.FieldTLS, cfg.UseTLS(),
		logger.FieldBackend, cfg.DBBackend,
		logger.FieldCount, len(srv.Endpoints()),
		logger.FieldVersion, version,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server stopped with error", logger.FieldError, err)
		return err
	}
	logger.Info("wsrpc server stopped")
	return nil
}
