package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"dexmail/backend/internal/ledger"
	"dexmail/backend/internal/storage"
)

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	chain  ledger.Client
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, chain ledger.Client, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		chain:  chain,
		logger: logger,
	}

	// 添加健康检查
	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储层连接检查
	hc.health.AddLivenessCheck("store", func() error {
		return hc.store.Health()
	})

	// 中继服务可达性检查
	hc.health.AddReadinessCheck("relayer", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return hc.chain.Health(ctx)
	})
}

// AddCheck 注册额外的就绪检查
func (hc *HealthChecker) AddCheck(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	// 检查存储层
	if err := hc.store.Health(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	// 检查中继服务
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hc.chain.Health(ctx); err != nil {
		results["relayer"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["relayer"] = "OK"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}
