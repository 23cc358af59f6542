package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"zh.xyz/dv/ora2pg/handlers"
	"zh.xyz/dv/ora2pg/middleware"
)

func SetupRoutes(r *gin.Engine) {
	// CORS中间件
	r.Use(middleware.CORSMiddleware())

	// 健康检查端点（无需认证）
	r.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "ora2pg",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 公共路由
	public := r.Group("/api/v1")
	{
		userHandler := &handlers.UserHandler{}
		public.POST("/register", userHandler.Register)
		public.POST("/login", userHandler.Login)
	}

	// 需要认证的路由
	auth := r.Group("/api/v1")
	auth.Use(middleware.AuthMiddleware())
	{
		userHandler := &handlers.UserHandler{}
		auth.GET("/profile", userHandler.GetProfile)

		// 数据库连接管理
		dbHandler := &handlers.DBConnectionHandler{}
		auth.POST("/connections", dbHandler.CreateConnection)
		auth.GET("/connections", dbHandler.ListConnections)
		auth.POST("/connections/test", dbHandler.TestConnection)

		// 源库对象浏览
		connections := auth.Group("/connections")
		{
			objectHandler := &handlers.DBObjectHandler{}
			connections.GET("/:id/schemas", objectHandler.ListSchemas)
			connections.GET("/:id/tables", objectHandler.ListTables)
			connections.GET("/:id/objects", objectHandler.ListObjects)
			connections.GET("/:id/objects/:type/definition", objectHandler.GetObjectDefinition)

			connections.GET("/:id", dbHandler.GetConnection)
			connections.PUT("/:id", dbHandler.UpdateConnection)
			connections.DELETE("/:id", dbHandler.DeleteConnection)
		}

		// 迁移任务
		jobHandler := &handlers.JobHandler{}
		sessionHandler := &handlers.SessionHandler{}
		auth.POST("/jobs", jobHandler.CreateJob)
		auth.GET("/jobs", jobHandler.ListJobs)

		jobs := auth.Group("/jobs")
		{
			jobs.POST("/:id/run", sessionHandler.RunJob)
			jobs.GET("/:id/sessions", sessionHandler.ListJobSessions)
			jobs.POST("/:id/schedule", jobHandler.ScheduleJob)
			jobs.POST("/:id/unschedule", jobHandler.UnscheduleJob)

			jobs.GET("/:id", jobHandler.GetJob)
			jobs.PUT("/:id", jobHandler.UpdateJob)
			jobs.DELETE("/:id", jobHandler.DeleteJob)
		}

		// 迁移会话
		sessions := auth.Group("/sessions")
		{
			sessions.GET("/:sid", sessionHandler.GetSession)
			sessions.POST("/:sid/stop", sessionHandler.StopSession)
			sessions.GET("/:sid/logs", sessionHandler.GetSessionLogs)
			sessions.GET("/:sid/object-logs", sessionHandler.GetObjectLogs)
			sessions.GET("/:sid/outer-references", sessionHandler.GetOuterReferences)
			sessions.GET("/:sid/manual-artifacts", sessionHandler.GetManualArtifacts)
		}
	}
}
