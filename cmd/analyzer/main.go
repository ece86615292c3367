package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/bootstrap"
	"data-intelligence/internal/config"
	"data-intelligence/internal/engine"
	"data-intelligence/internal/logging"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/renderer"
	"data-intelligence/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	debug      bool
	conn       adapter.ConnConfig
	method     string
	outputDir  string
	steps      int
	listen     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "data-intelligence",
		Short:         "数据库结构智能分析",
		Long:          "采集任意关系库或 MongoDB 的结构，生成图谱、引力评分、时间演化与数据字典",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径 (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "开发模式日志")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "扫描数据库并输出数据字典、ER 图和结构 JSON",
		RunE:  runScan,
	}
	scanCmd.Flags().StringVar(&outputDir, "output", "./output", "输出目录")

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "输出 3D 图谱载荷 JSON",
		RunE:  runGraph,
	}

	evolutionCmd := &cobra.Command{
		Use:   "evolution",
		Short: "输出时间演化分析与关键帧 JSON",
		RunE:  runEvolution,
	}
	evolutionCmd.Flags().IntVar(&steps, "steps", 50, "关键帧步数 [10, 200]")

	for _, c := range []*cobra.Command{scanCmd, graphCmd, evolutionCmd} {
		addConnFlags(c)
	}
	scanCmd.Flags().StringVar(&method, "method", "heuristic", "聚类方法 (heuristic/networkx/none)")
	graphCmd.Flags().StringVar(&method, "method", "heuristic", "聚类方法 (heuristic/networkx/none)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP / WebSocket 服务",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "监听地址，覆盖配置")

	rootCmd.AddCommand(scanCmd, graphCmd, evolutionCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func addConnFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&conn.DBType, "type", "postgresql", "数据库类型 (mysql/postgresql/sqlserver/sqlite/mongodb)")
	f.StringVar(&conn.Host, "host", "localhost", "主机地址")
	f.IntVar(&conn.Port, "port", 5432, "端口")
	f.StringVar(&conn.Database, "database", "", "数据库名，SQLite 为文件路径")
	f.StringVar(&conn.Username, "user", "", "用户名")
	f.StringVar(&conn.Password, "password", "", "密码（或使用环境变量 DI_PASSWORD）")
	f.StringVar(&conn.Schema, "schema", "", "schema（PostgreSQL / SQL Server）")
	c.MarkFlagRequired("database")
}

// session 一次命令行运行所需的组件
type session struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	svc    *engine.Service
	h      registry.Handle
}

func (s *session) Close() {
	s.svc.Close()
	s.logger.Sync()
}

func setup(ctx context.Context, open bool) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Debug = true
	}
	logger, err := logging.New(cfg.Log.Debug, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger, svc: bootstrap.NewService(cfg, logger)}
	if !open {
		return s, nil
	}

	if conn.Password == "" {
		conn.Password = os.Getenv("DI_PASSWORD")
	}
	h, err := s.svc.OpenConnection(ctx, conn)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	s.h = h
	if method != "" {
		if _, err := s.svc.SetClusterMethod(h, method); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("🔍 开始扫描数据库...")
	if _, err := s.svc.GetSchema(ctx, s.h); err != nil {
		return err
	}
	// 等待后台精化写回
	s.svc.Wait()
	sc, err := s.svc.GetSchema(ctx, s.h)
	if err != nil {
		return err
	}
	fmt.Printf("✓ 发现 %d 个表, %d 个外键\n", sc.Len(), sc.TotalForeignKeys())

	sess, err := s.svc.Session(s.h)
	if err != nil {
		return err
	}
	gravity, err := s.svc.Gravities(s.h)
	if err != nil {
		return err
	}
	in := renderer.Input{Schema: sc, Clusters: sess.Clusters(), Gravity: gravity}

	fmt.Println("\n📝 生成输出文件...")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	jsonData, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	files := []struct {
		name string
		data []byte
	}{
		{"schema.json", jsonData},
		{"dict.md", []byte(renderer.NewMarkdownRenderer().Render(in))},
		{"er.mmd", []byte(renderer.NewMermaidRenderer().Render(in))},
	}
	for _, f := range files {
		p := filepath.Join(outputDir, f.name)
		if err := os.WriteFile(p, f.data, 0o644); err != nil {
			return err
		}
		fmt.Printf("✓ %s\n", p)
	}

	fmt.Println("\n✅ 分析完成！")
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.svc.GetSchema(ctx, s.h); err != nil {
		return err
	}
	s.svc.Wait()
	p, err := s.svc.GetGraph(s.h)
	if err != nil {
		return err
	}
	return printJSON(p)
}

func runEvolution(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	a, err := s.svc.AnalyzeEvolution(ctx, s.h)
	if err != nil {
		return err
	}
	frames, err := s.svc.GetKeyframes(ctx, s.h, steps)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"analysis": a, "keyframes": frames})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := bootstrap.OpenConfigured(ctx, s.svc, s.cfg); err != nil {
		return err
	}
	addr := s.cfg.Server.Listen
	if listen != "" {
		addr = listen
	}
	app := server.NewApp(s.svc,
		server.WithMetricsInterval(s.cfg.Server.MetricsInterval),
		server.WithLogger(s.logger.Named("http")))
	return app.Run(ctx, addr)
}
