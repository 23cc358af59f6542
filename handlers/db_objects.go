package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/ora2pg/catalog"
	"zh.xyz/dv/ora2pg/dbconn"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/service"
)

// DBObjectHandler 浏览Oracle源库中可迁移的对象
type DBObjectHandler struct{}

// sourceCatalog 打开源库的目录查询；连接不是Oracle时返回错误响应
func sourceCatalog(c *gin.Context, owner string) (*catalog.Oracle, catalog.Reader, bool) {
	conn, ok := loadConnection(c)
	if !ok {
		return nil, nil, false
	}
	if conn.Type != models.ConnOracle {
		c.JSON(http.StatusBadRequest, gin.H{"error": "只能浏览Oracle源库"})
		return nil, nil, false
	}

	raw, err := dbconn.GetRawConnection(c.Request.Context(), conn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "连接数据库失败: " + err.Error()})
		return nil, nil, false
	}
	if owner == "" {
		owner = conn.Username
	}
	r := catalog.NewSQLReader(raw, nil)
	return catalog.NewOracle(r, owner), r, true
}

// ListSchemas 列出连接用户可迁移的schema；非DBA用户只返回自身schema
func (h *DBObjectHandler) ListSchemas(c *gin.Context) {
	ora, _, ok := sourceCatalog(c, "")
	if !ok {
		return
	}
	schemas, dba, err := ora.VisibleSchemas(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询schema失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dba": dba, "data": schemas})
}

// ListTables 列出owner下的表
func (h *DBObjectHandler) ListTables(c *gin.Context) {
	ora, _, ok := sourceCatalog(c, c.Query("owner"))
	if !ok {
		return
	}
	tables, err := ora.Tables(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询表失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": ora.Owner(), "data": tables})
}

// ListObjects 列出owner下的存储对象，可按type过滤（function, procedure, trigger, view）
func (h *DBObjectHandler) ListObjects(c *gin.Context) {
	var kind models.ObjectKind
	if t := c.Query("type"); t != "" {
		k, ok := models.ParseObjectKind(t)
		if !ok || k == models.KindTable {
			c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的对象类型: " + t})
			return
		}
		kind = k
	}

	ora, _, ok := sourceCatalog(c, c.Query("owner"))
	if !ok {
		return
	}
	objects, err := ora.Objects(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询对象失败: " + err.Error()})
		return
	}
	if kind != "" {
		filtered := objects[:0]
		for _, o := range objects {
			if o.Kind == kind {
				filtered = append(filtered, o)
			}
		}
		objects = filtered
	}
	c.JSON(http.StatusOK, gin.H{"owner": ora.Owner(), "data": objects})
}

// GetObjectDefinition 获取对象源码及转换到PostgreSQL后的语句（不执行）
func (h *DBObjectHandler) GetObjectDefinition(c *gin.Context) {
	kind, ok := models.ParseObjectKind(c.Param("type"))
	if !ok || kind == models.KindTable {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的对象类型: " + c.Param("type")})
		return
	}
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少对象名称参数"})
		return
	}
	schema := c.Query("target_schema")

	ora, r, ok := sourceCatalog(c, c.Query("owner"))
	if !ok {
		return
	}
	if schema == "" {
		schema = ora.Owner()
	}

	key := models.ObjectKey{Kind: kind, Name: name}
	tr, err := service.PreviewObject(c.Request.Context(), r, ora.Owner(), schema, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取对象定义失败: " + err.Error()})
		return
	}

	resp := gin.H{
		"object_type": kind,
		"object_name": name,
		"drop":        tr.Drop,
		"statements":  tr.Statements,
	}
	if tr.Manual != nil {
		resp["manual"] = true
		resp["definition"] = tr.Manual.Text
		if tr.Manual.Reason != nil {
			resp["reason"] = tr.Manual.Reason.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}
