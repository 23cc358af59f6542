package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ora2pg",
		Name:      "sessions_total",
		Help:      "迁移会话数，按最终状态统计",
	}, []string{"state"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ora2pg",
		Name:      "session_duration_seconds",
		Help:      "迁移会话耗时",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ora2pg",
		Name:      "tasks_total",
		Help:      "表与存储对象的迁移结果",
	}, []string{"kind", "state"})

	rowsCopied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ora2pg",
		Name:      "rows_copied_total",
		Help:      "写入目标库的行数",
	})

	constraintFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ora2pg",
		Name:      "constraint_failures_total",
		Help:      "外键约束创建失败次数",
	})

	manualArtifacts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ora2pg",
		Name:      "manual_artifacts_total",
		Help:      "转为人工迁移的对象数",
	})
)
