package service

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
	"zh.xyz/dv/ora2pg/config"
	"zh.xyz/dv/ora2pg/models"
)

// SendSessionReport 把会话结果发给所有启用的管理员；未配置SMTP时直接返回
func SendSessionReport(db *gorm.DB, r *Report) error {
	if config.GlobalConfig == nil || config.GlobalConfig.Email.Host == "" || db == nil {
		return nil
	}

	var admins []models.User
	if err := db.Where("role = ? AND status = ?", "admin", "active").Find(&admins).Error; err != nil {
		return err
	}
	var to []string
	for _, u := range admins {
		if u.Email != "" {
			to = append(to, u.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}

	subject := fmt.Sprintf("迁移会话%s: %s -> %s", stateLabel(r.State), r.Owner, r.TargetSchema)
	return sendEmail(to, subject, reportBody(r))
}

func stateLabel(s SessionState) string {
	if s == StateSuccess {
		return "成功"
	}
	return "失败"
}

func reportBody(r *Report) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	fmt.Fprintf(&b, "<h2>迁移会话 %s</h2>\n", html.EscapeString(r.SessionID))
	b.WriteString("<ul>\n")
	fmt.Fprintf(&b, "<li>Oracle schema: %s</li>\n", html.EscapeString(r.Owner))
	fmt.Fprintf(&b, "<li>PostgreSQL schema: %s</li>\n", html.EscapeString(r.TargetSchema))
	fmt.Fprintf(&b, "<li>状态: %s</li>\n", stateLabel(r.State))
	fmt.Fprintf(&b, "<li>耗时: %s</li>\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "<li>表: %d, 存储对象: %d</li>\n", len(r.Tables), len(r.Objects))
	fmt.Fprintf(&b, "<li>完成: %d, 人工迁移: %d, 取消: %d, 延迟重试: %d</li>\n", r.Done, r.Manual, r.Cancelled, r.Deferrals)
	if r.Restored {
		b.WriteString("<li>目标schema已恢复到迁移前的状态</li>\n")
	}
	b.WriteString("</ul>\n")

	if r.Error != "" {
		fmt.Fprintf(&b, "<p>错误: %s</p>\n", html.EscapeString(r.Error))
	}
	if len(r.Failed) > 0 {
		keys := make([]string, 0, len(r.Failed))
		for k := range r.Failed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("<h3>失败的对象</h3>\n<ul>\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "<li>%s: %s</li>\n", html.EscapeString(k), html.EscapeString(r.Failed[k]))
		}
		b.WriteString("</ul>\n")
	}
	if len(r.OuterRefs) > 0 {
		b.WriteString("<h3>跨schema引用（需人工迁移）</h3>\n<ul>\n")
		for _, ref := range r.OuterRefs {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(ref.String()))
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</body></html>\n")
	return b.String()
}

// sendEmail 发送邮件
func sendEmail(to []string, subject, body string) error {
	cfg := config.GlobalConfig.Email

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return d.DialAndSend(m)
}
