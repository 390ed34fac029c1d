// 包 emulator：本地识别服务，实现 Agent 的请求/响应约定，用于开发调试与集成测试
package emulator

import (
	"fmt"
	"os"
	"strings"
	"time"

	"fpagent/pkg/fingerprint"
)

// TokenStatus：订阅状态
type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenExpired  TokenStatus = "expired"
	TokenInactive TokenStatus = "inactive"
)

// TokenInfo：令牌注册信息；Origins 为空表示不限制来源站点
type TokenInfo struct {
	Token   string
	Region  fingerprint.Region
	Status  TokenStatus
	Origins []string
}

// Config：模拟服务配置
type Config struct {
	Region         fingerprint.Region
	Tokens         map[string]TokenInfo
	ProcessTimeout time.Duration
	// TrustProxy 为 true 时客户端 IP 取自 X-Forwarded-For / X-Real-IP；仅在可信反向代理之后开启
	TrustProxy     bool
	HistoryLimit   int
}

const (
	defaultTokens         = "dev-token:us:active"
	defaultProcessTimeout = 3 * time.Second
)

// ParseTokens：解析 "tok:region:status[:origin|origin],..." 列表
// 约束：region 默认 us，status 默认 active；未知取值返回错误。
func ParseTokens(s string) (map[string]TokenInfo, error) {
	out := map[string]TokenInfo{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 4)
		ti := TokenInfo{Token: parts[0], Region: fingerprint.RegionUS, Status: TokenActive}
		if ti.Token == "" {
			return nil, fmt.Errorf("emulator: empty token in %q", item)
		}
		if len(parts) > 1 && parts[1] != "" {
			ti.Region = fingerprint.Region(strings.ToLower(parts[1]))
			if ti.Region != fingerprint.RegionUS && ti.Region != fingerprint.RegionEU {
				return nil, fmt.Errorf("emulator: unknown region %q for token %s", parts[1], ti.Token)
			}
		}
		if len(parts) > 2 && parts[2] != "" {
			ti.Status = TokenStatus(strings.ToLower(parts[2]))
			switch ti.Status {
			case TokenActive, TokenExpired, TokenInactive:
			default:
				return nil, fmt.Errorf("emulator: unknown status %q for token %s", parts[2], ti.Token)
			}
		}
		if len(parts) > 3 && parts[3] != "" {
			ti.Origins = strings.Split(parts[3], "|")
		}
		out[ti.Token] = ti
	}
	return out, nil
}

// ConfigFromEnv：EMULATOR_REGION / EMULATOR_TOKENS / EMULATOR_PROCESS_TIMEOUT / EMULATOR_TRUST_PROXY / EMULATOR_HISTORY_LIMIT
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Region:         fingerprint.Region(strings.ToLower(os.Getenv("EMULATOR_REGION"))),
		ProcessTimeout: defaultProcessTimeout,
		TrustProxy:     os.Getenv("EMULATOR_TRUST_PROXY") == "true",
		HistoryLimit:   10,
	}
	if cfg.Region == "" {
		cfg.Region = fingerprint.RegionUS
	}
	raw := os.Getenv("EMULATOR_TOKENS")
	if raw == "" {
		raw = defaultTokens
	}
	tokens, err := ParseTokens(raw)
	if err != nil {
		return cfg, err
	}
	cfg.Tokens = tokens
	if v := os.Getenv("EMULATOR_PROCESS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("emulator: EMULATOR_PROCESS_TIMEOUT: %w", err)
		}
		cfg.ProcessTimeout = d
	}
	if v := os.Getenv("EMULATOR_HISTORY_LIMIT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}
	return cfg, nil
}
