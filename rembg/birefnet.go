package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	nhttp "github.com/chaos-io/cutout/util/http"
)

const BiRefNetModel = "BiRefNet"

const (
	uploadPath  = "api/upload/image"
	promptPath  = "api/prompt"
	historyPath = "api/history/"
	viewPath    = "api/view"
)

//go:embed workflow.json
var workflowData []byte

type BiRefNetConfig struct {
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
}

// BiRefNet 通过 ComfyUI 的 HTTP 接口运行 BiRefNet 抠图工作流
type BiRefNet struct {
	cfg      BiRefNetConfig
	cli      nhttp.IClient
	clientID string
	logger   *zap.Logger
}

func NewBiRefNet(cfg BiRefNetConfig, cli nhttp.IClient, logger *zap.Logger) *BiRefNet {
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 120
	}
	return &BiRefNet{
		cfg:      cfg,
		cli:      cli,
		clientID: ksuid.New().String(),
		logger:   logger.Named("birefnet"),
	}
}

// Infer 上传图片 -> 提交工作流 -> 轮询结果 -> 下载输出
//
// 进度按整体步数上报：上传、提交、每次轮询、下载
func (b *BiRefNet) Infer(ctx context.Context, src []byte, progress ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	total := b.cfg.MaxPolls + 3

	progress(PhaseFetch, 0, total)
	uploaded, err := b.uploadImage(ctx, src)
	if err != nil {
		return nil, err
	}
	progress(PhaseFetch, 1, total)

	promptID, err := b.prompt(ctx, uploaded)
	if err != nil {
		return nil, err
	}
	progress(PhaseCompute, 2, total)

	ref, err := b.waitOutput(ctx, promptID, func(poll int) {
		progress(PhaseCompute, 2+poll, total)
	})
	if err != nil {
		return nil, err
	}
	progress(PhasePost, total-1, total)

	data, err := b.view(ctx, ref)
	if err != nil {
		return nil, err
	}
	progress(PhasePost, total, total)

	return data, nil
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// path 工作流 LoadImage 节点引用的文件名
func (u *uploadImageResp) path() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (b *BiRefNet) uploadImage(ctx context.Context, src []byte) (*uploadImageResp, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "cutout-"+ksuid.New().String()+".png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(src); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}

	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	resp := &uploadImageResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.cfg.BaseURL + uploadPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty file name in response")
	}

	b.logger.Debug("image uploaded", zap.String("name", resp.path()))
	return resp, nil
}

type promptReq struct {
	Prompt   map[string]map[string]any `json:"prompt"`
	ClientID string                    `json:"client_id"`
}

type promptResp struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// buildWorkflow 把上传后的文件名填入 LoadImage 节点
func buildWorkflow(image string) (map[string]map[string]any, error) {
	wk := map[string]map[string]any{}
	if err := json.Unmarshal(workflowData, &wk); err != nil {
		return nil, fmt.Errorf("unmarshal workflow data: %w", err)
	}

	found := false
	for _, node := range wk {
		if node["class_type"] != "LoadImage" {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			return nil, errors.New("workflow LoadImage node has no inputs")
		}
		inputs["image"] = image
		found = true
	}
	if !found {
		return nil, errors.New("workflow has no LoadImage node")
	}
	return wk, nil
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNet) prompt(ctx context.Context, uploaded *uploadImageResp) (string, error) {
	wk, err := buildWorkflow(uploaded.path())
	if err != nil {
		return "", err
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.cfg.BaseURL + promptPath,
		Method:     http.MethodPost,
		Body:       &promptReq{Prompt: wk, ClientID: b.clientID},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("queue prompt: node errors %v", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt id")
	}

	b.logger.Debug("prompt queued", zap.String("prompt_id", resp.PromptID), zap.Int("number", resp.Number))
	return resp.PromptID, nil
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
}

// firstImage 优先返回 output 类型的图片
func (h *historyEntry) firstImage() (imageRef, bool) {
	var fallback *imageRef
	for _, out := range h.Outputs {
		for i := range out.Images {
			if out.Images[i].Type == "output" {
				return out.Images[i], true
			}
			if fallback == nil {
				fallback = &out.Images[i]
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return imageRef{}, false
}

func (b *BiRefNet) waitOutput(ctx context.Context, promptID string, onPoll func(poll int)) (imageRef, error) {
	for poll := 1; poll <= b.cfg.MaxPolls; poll++ {
		history := map[string]*historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.cfg.BaseURL + historyPath + promptID,
			Method:     http.MethodGet,
			Response:   &history,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return imageRef{}, fmt.Errorf("get history: %w", err)
		}
		onPoll(poll)

		if entry, ok := history[promptID]; ok && entry != nil {
			if entry.Status.StatusStr == "error" {
				return imageRef{}, fmt.Errorf("prompt %s execution failed", promptID)
			}
			if ref, ok := entry.firstImage(); ok {
				return ref, nil
			}
			if entry.Status.Completed {
				return imageRef{}, fmt.Errorf("prompt %s produced no image", promptID)
			}
		}

		select {
		case <-ctx.Done():
			return imageRef{}, ctx.Err()
		case <-time.After(b.cfg.PollInterval):
		}
	}
	return imageRef{}, fmt.Errorf("prompt %s not finished after %d polls", promptID, b.cfg.MaxPolls)
}

func (b *BiRefNet) view(ctx context.Context, ref imageRef) ([]byte, error) {
	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.cfg.BaseURL + viewPath,
		Method:     http.MethodGet,
		Query: map[string]string{
			"filename":  ref.Filename,
			"subfolder": ref.Subfolder,
			"type":      ref.Type,
		},
		Response: &data,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("view image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("view image: empty body")
	}
	return data, nil
}
