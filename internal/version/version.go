// 包 version：构建版本信息，发布时通过 -ldflags "-X" 注入
package version

var (
	Version = "dev"
	Commit  = "none"
)

// String：形如 "dev (none)" 的版本文本
func String() string { return Version + " (" + Commit + ")" }
