package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"zh.xyz/dv/ora2pg/config"
	"zh.xyz/dv/ora2pg/database"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/routes"
	"zh.xyz/dv/ora2pg/service"
	"zh.xyz/dv/ora2pg/utils"
)

var (
	app        = kingpin.New("ora2pg", "Oracle到PostgreSQL的schema迁移服务")
	configFile = app.Flag("config", "配置文件路径").Default("config.json").String()

	serveCmd = app.Command("serve", "启动HTTP API服务").Default()

	migrateCmd    = app.Command("migrate", "执行一次迁移并把进度输出到标准输出")
	migrateJob    = migrateCmd.Flag("job", "已保存的迁移任务ID").Uint()
	migrateSource = migrateCmd.Flag("source", "Oracle源连接ID").Uint()
	migrateTarget = migrateCmd.Flag("target", "PostgreSQL目标连接ID").Uint()
	migrateOwner  = migrateCmd.Flag("owner", "Oracle源schema").String()
	migrateSchema = migrateCmd.Flag("schema", "PostgreSQL目标schema，默认与owner同名").String()
	migrateTables = migrateCmd.Flag("table", "要迁移的表，可重复").Strings()
	migrateObjs   = migrateCmd.Flag("object", "要迁移的存储对象，格式KIND:NAME，可重复").Strings()
	migrateNoBak  = migrateCmd.Flag("no-backup", "不备份目标schema").Bool()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// 加载配置
	if err := config.LoadConfig(*configFile); err != nil {
		logrus.WithError(err).Warn("加载配置文件失败，使用默认配置")
		config.GlobalConfig = config.Default()
	}
	utils.InitLogger(config.GlobalConfig.Server.Mode)

	// 初始化数据库
	if err := database.InitDatabase(); err != nil {
		logrus.WithError(err).Fatal("数据库初始化失败")
	}
	service.InitSessionManager(database.DB, config.GlobalConfig.Migration)

	switch cmd {
	case serveCmd.FullCommand():
		serve()
	case migrateCmd.FullCommand():
		os.Exit(migrate())
	}
}

func serve() {
	// 初始化定时任务管理器
	service.InitCronManager(database.DB)
	defer service.StopCronManager()

	// 设置Gin模式
	if config.GlobalConfig.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	routes.SetupRoutes(r)

	port := config.GlobalConfig.Server.Port
	if port == "" {
		port = "8080"
	}

	logrus.Infof("服务器启动在端口 %s", port)
	if err := r.Run(":" + port); err != nil {
		logrus.WithError(err).Fatal("服务器启动失败")
	}
}

// migrate 命令行迁移，会话失败时返回非零退出码
func migrate() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newCLISession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	s.Progress().Attach(os.Stdout)
	if *migrateNoBak {
		s.DisableBackup()
	}

	// 收到中断信号时停止会话，正在导入的表会先完成
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.Done():
		}
	}()

	if err := service.Sessions.RunSession(context.Background(), s); err != nil {
		fmt.Fprintf(os.Stderr, "迁移失败: %v\n", err)
		return 1
	}
	r := s.Report()
	fmt.Printf("迁移完成: 表%d个, 存储对象%d个, 人工迁移%d个\n", len(r.Tables), len(r.Objects), r.Manual)
	return 0
}

func newCLISession() (*service.Session, error) {
	if *migrateJob != 0 {
		return service.Sessions.NewJobSession(*migrateJob)
	}
	if *migrateSource == 0 || *migrateTarget == 0 || *migrateOwner == "" {
		return nil, fmt.Errorf("需要指定--job，或同时指定--source、--target与--owner")
	}

	sel := service.Selection{Tables: *migrateTables}
	for _, o := range *migrateObjs {
		kind, name, ok := strings.Cut(o, ":")
		k, valid := models.ParseObjectKind(kind)
		if !ok || !valid || k == models.KindTable || name == "" {
			return nil, fmt.Errorf("存储对象格式错误: %s", o)
		}
		sel.Objects = append(sel.Objects, models.ObjectKey{Kind: k, Name: strings.ToUpper(name)})
	}
	if sel.Empty() {
		return nil, fmt.Errorf("至少指定一个--table或--object")
	}

	schema := *migrateSchema
	if schema == "" {
		schema = *migrateOwner
	}
	return service.Sessions.NewAdhocSession(*migrateSource, *migrateTarget, *migrateOwner, schema, sel)
}
