// Package security 提供附件上传的安全检查。
package security

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// SniffLen 内容检查需要读取的文件头长度
const SniffLen = 512

var (
	// ErrDangerousExtension 文件扩展名可执行
	ErrDangerousExtension = errors.New("dangerous file extension")
	// ErrExecutableContent 文件内容是可执行程序
	ErrExecutableContent = errors.New("executable file content")
	// ErrInvalidContentType 声明的 MIME 类型无法解析
	ErrInvalidContentType = errors.New("invalid content type")
)

// 可执行文件魔数
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE executable
	{0x7F, 0x45, 0x4C, 0x46}, // ELF executable
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O executable
	{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O executable (reverse)
	{0xCF, 0xFA, 0xED, 0xFE}, // Mach-O 64-bit
}

// AttachmentPolicy 附件安全检查器
type AttachmentPolicy struct {
	dangerousExtensions map[string]bool
}

// NewAttachmentPolicy 创建附件安全检查器
func NewAttachmentPolicy() *AttachmentPolicy {
	return &AttachmentPolicy{
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".msi": true,
			".ps1": true,
			".sh":  true,
		},
	}
}

// Check 检查附件，header 为文件开头最多 SniffLen 字节。
//
// 通过检查时返回应使用的 MIME 类型：声明的类型为空或为
// application/octet-stream 时根据文件头推断。
func (p *AttachmentPolicy) Check(filename, contentType string, header []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if p.dangerousExtensions[ext] {
		return "", fmt.Errorf("%w: %s", ErrDangerousExtension, ext)
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(header, sig) {
			return "", ErrExecutableContent
		}
	}

	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt, nil
		}
		return http.DetectContentType(header), nil
	}

	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	return contentType, nil
}
