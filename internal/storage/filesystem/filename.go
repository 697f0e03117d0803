package filesystem

import (
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameLength 文件名最大字节数（保留扩展名）
const maxFilenameLength = 200

// SanitizeFilename 清理上传文件名，确保跨平台兼容
//
// 只保留最后一段路径，替换平台不允许的字符并移除控制字符，
// 超长时截断主文件名部分。
func SanitizeFilename(filename string) string {
	// 1. 统一分隔符后只取最后一段
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	// 2. 替换不允许的字符
	for _, char := range invalidChars() {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	// 3. 移除控制字符
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	// 4. 统一为 NFC，避免同一文件名出现多种编码形式
	filename = norm.NFC.String(filename)

	// 5. 移除前后空格和点
	filename = strings.Trim(filename, " .")

	// 6. 限制长度
	filename = limitLength(filename, maxFilenameLength)

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

// invalidChars 获取当前平台不允许的字符
func invalidChars() []string {
	switch runtime.GOOS {
	case "darwin", "linux":
		return []string{"/", "\x00"}
	default:
		// Windows 及未知平台保守处理
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	}
}

func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	// 保留扩展名
	ext := filepath.Ext(s)
	if len(ext) >= maxLen {
		return truncateUTF8(s, maxLen)
	}
	return truncateUTF8(strings.TrimSuffix(s, ext), maxLen-len(ext)) + ext
}

// truncateUTF8 按字节截断且不拆开多字节字符
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
