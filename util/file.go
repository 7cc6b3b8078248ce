package util

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	nhttp "github.com/chaos-io/cutout/util/http"
)

// IsURL 判断输入是否为 http(s) 地址
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// DownloadFile 下载远程文件，返回内容和文件名
func DownloadFile(ctx context.Context, cli nhttp.IClient, rawURL string) ([]byte, string, error) {
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: rawURL,
		Method:     http.MethodGet,
		Response:   &data,
	})
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}

	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
		if name == "/" || name == "." {
			name = ""
		}
	}
	return data, name, nil
}

// ReadFile 读取本地文件，返回内容和文件名
func ReadFile(p string) ([]byte, string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", err
	}
	return data, filepath.Base(p), nil
}

// Load 根据输入自动选择下载或读取本地文件
func Load(ctx context.Context, cli nhttp.IClient, src string) ([]byte, string, error) {
	if IsURL(src) {
		return DownloadFile(ctx, cli, src)
	}
	return ReadFile(src)
}
