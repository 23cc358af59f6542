package database

import (
	"fmt"
	"net"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"zh.xyz/dv/ora2pg/config"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/utils"
)

var DB *gorm.DB

// MySQLDSN 元数据库（MySQL）连接串
func MySQLDSN(cfg config.DatabaseConfig) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// InitDatabase 初始化数据库连接
func InitDatabase() error {
	var err error
	cfg := config.GlobalConfig.Database

	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		dialector = mysql.Open(MySQLDSN(cfg))
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
			cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	level := logger.Warn
	if config.GlobalConfig.Server.Mode == "debug" {
		level = logger.Info
	}
	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return err
	}

	// 自动迁移
	err = DB.AutoMigrate(
		&models.User{},
		&models.DatabaseConnection{},
		&models.MigrationJob{},
		&models.MigrationSession{},
		&models.MigrationLog{},
		&models.ObjectMigrationLog{},
		&models.OuterReferenceRecord{},
		&models.ManualArtifactRecord{},
	)
	if err != nil {
		return err
	}

	// 创建默认管理员账户（如果不存在）
	createDefaultAdmin()
	return nil
}

func createDefaultAdmin() {
	var admin models.User
	result := DB.Where("username = ?", "admin").First(&admin)
	if result.Error != nil {
		// 默认密码：admin123，首次登录后应修改
		hashedPassword, err := utils.HashPassword("admin123")
		if err != nil {
			logrus.WithError(err).Error("创建默认管理员失败")
			return
		}
		admin = models.User{
			Username: "admin",
			Password: hashedPassword,
			Email:    "admin@example.com",
			Role:     "admin",
			Status:   "active",
		}
		DB.Create(&admin)
	}
}
