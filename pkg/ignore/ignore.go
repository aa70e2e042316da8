// Package ignore 决定批量发布目录时哪些文件不进入仓库
package ignore

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile 是目录里用户自定义规则的文件名
const IgnoreFile = ".repoignore"

// Matcher 封装了忽略逻辑
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化忽略匹配器
// rootPath: 被发布的目录 (用于查找 .repoignore 文件)
func NewMatcher(rootPath string) (*Matcher, error) {
	// 1. 默认规则强制生效
	defaultRules := []string{
		// --- 节点和工具自己的目录 ---
		".ndnrepo",
		".git",

		// --- 安全与配置 ---
		"config.yaml", // 防止 security.key 和 S3 Secret Key 泄露
		".env",
		IgnoreFile,

		// --- 常见垃圾文件 ---
		".DS_Store", // macOS
		"Thumbs.db", // Windows
	}

	var ignorer *gitignore.GitIgnore
	var err error

	// 2. 合并用户规则
	ignoreFilePath := filepath.Join(rootPath, IgnoreFile)
	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定的路径是否应该被忽略
// path: 相对于被发布目录的路径 (例如 "data/model.bin")
func (m *Matcher) Matches(path string) bool {
	if m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
