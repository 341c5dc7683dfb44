package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/server"
	"github.com/any-hub/imgcache/internal/server/routes"
	"github.com/any-hub/imgcache/internal/version"
)

// configEnvKey 用于在未传 --config 时指定配置文件。
const configEnvKey = "ANY_IMGCACHE_CONFIG"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	purgeAll     bool
	purgeID      string
	purgeExpired bool
	sweep        bool
}

// maintenanceMode 表示本次运行只执行一次性维护命令。
func (o cliOptions) maintenanceMode() bool {
	return o.purgeAll || o.purgeID != "" || o.purgeExpired || o.sweep
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["backend"] = cfg.Cache.Backend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	selector := cache.NewSelector(cfg.Cache, logger, cache.NewMetrics(registry))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.maintenanceMode() {
		if err := runMaintenance(ctx, opts, selector, logger); err != nil {
			fmt.Fprintf(stdErr, "缓存维护失败: %v\n", err)
			return 1
		}
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["backend"] = cfg.Cache.Backend
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// 启动顺序为“配置 → 缓存后端 → 后台维护 → Fiber server”，
	// 后端配置错误在监听端口之前暴露。
	if _, err := selector.Cache(); err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	if err := serve(ctx, cfg, selector, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// runMaintenance 依次执行 CLI 请求的维护命令：单个 identifier、过期清理、全量清理、清扫。
func runMaintenance(ctx context.Context, opts cliOptions, provider cache.Provider, logger *logrus.Logger) error {
	store, err := provider.Cache()
	if err != nil {
		return err
	}
	entry := logger.WithFields(logrus.Fields{"action": "maintenance", "backend": store.Name()})

	if opts.purgeID != "" {
		if err := store.Purge(ctx, cache.Identifier(opts.purgeID)); err != nil {
			return err
		}
		entry.WithField("identifier", opts.purgeID).Info("identifier purged")
	}
	if opts.purgeExpired {
		if err := store.PurgeExpired(ctx); err != nil {
			return err
		}
		entry.Info("expired entries purged")
	}
	if opts.purgeAll {
		if err := store.PurgeAll(ctx); err != nil {
			return err
		}
		entry.Info("cache purged")
	}
	if opts.sweep {
		result, err := store.Sweep(ctx)
		if err != nil {
			return err
		}
		entry.WithFields(logrus.Fields{
			"scanned": result.Scanned,
			"deleted": result.Deleted,
			"failed":  result.Failed,
		}).Info("cache swept")
	}
	return nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imgcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnvKey+" 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.purgeAll, "purge-all", false, "清空全部缓存后退出")
	fs.StringVar(&opts.purgeID, "purge", "", "清理指定 identifier 的全部缓存后退出")
	fs.BoolVar(&opts.purgeExpired, "purge-expired", false, "清理过期条目后退出")
	fs.BoolVar(&opts.sweep, "sweep", false, "清扫残留临时文件后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnvKey)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path
	return opts, nil
}

// serve 启动 Fiber 服务与后台维护任务，ctx 结束时两者一起退出。
func serve(ctx context.Context, cfg *config.Config, provider cache.Provider, gatherer prometheus.Gatherer, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Gatherer: gatherer,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, provider, logger)
	server.MountFallback(app, logger)

	worker := cache.NewWorker(provider, cfg.Cache.WorkerInterval.DurationValue(), logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})
	group.Go(func() error {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			return err
		}
		// Listen 正常返回说明服务已关闭，通知其余任务退出
		return errServerClosed
	})

	if err := group.Wait(); err != nil && !errors.Is(err, errServerClosed) {
		return err
	}
	return nil
}

var errServerClosed = errors.New("server closed")
