package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"docrunner/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		if _, err := Reader["fs"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("reader: %v", err)
		}
		if _, err := Reader["fs"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("reader 未对未知字段报错")
		}
	})
	t.Run("extractor", func(t *testing.T) {
		for _, name := range []string{"rst", "markdown", "auto"} {
			if _, err := Extractor[name](json.RawMessage(`{"lang":"rust"}`)); err != nil {
				t.Fatalf("extractor %s: %v", name, err)
			}
			if _, err := Extractor[name](json.RawMessage(`{"x":1}`)); err == nil {
				t.Fatalf("extractor %s 未对未知字段报错", name)
			}
		}
	})
	t.Run("filter", func(t *testing.T) {
		if _, err := Filter["marker"](json.RawMessage(`{"start":"// BEGIN","end":"// END"}`)); err != nil {
			t.Fatalf("filter: %v", err)
		}
		if _, err := Filter["marker"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("filter 未对未知字段报错")
		}
	})
	t.Run("synthesizer", func(t *testing.T) {
		if _, err := Synthesizer["rust-test"](nil); err != nil {
			t.Fatalf("synthesizer: %v", err)
		}
		if _, err := Synthesizer["rust-test"](json.RawMessage(`{"prefix":"bad-name"}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("synthesizer 未按预期报错: %v", err)
		}
	})
	t.Run("artifact", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "g.rs")
		a, err := Artifact["fs"](p, json.RawMessage(`{"sync":true}`))
		if err != nil {
			t.Fatalf("artifact: %v", err)
		}
		defer a.Close()
		if a.Path() != p {
			t.Fatalf("工件路径 %s, 预期 %s", a.Path(), p)
		}
		if _, err := Artifact["fs"]("", nil); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("缺少路径应报错: %v", err)
		}
	})
	t.Run("compiler", func(t *testing.T) {
		if _, err := Compiler["rustc"](json.RawMessage(`{"edition":"2021"}`)); err != nil {
			t.Fatalf("rustc: %v", err)
		}
		if _, err := Compiler["rustc"](json.RawMessage(`{"edition":"2030"}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("rustc 未按预期报错: %v", err)
		}
		if _, err := Compiler["mock"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("mock: %v", err)
		}
	})
	t.Run("decoder", func(t *testing.T) {
		if _, err := Decoder["rustc-json"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("decoder: %v", err)
		}
	})
	t.Run("writer", func(t *testing.T) {
		tmp := t.TempDir()
		raw := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q}`, tmp)))
		if _, err := Writer["fs"](raw); err != nil {
			t.Fatalf("writer: %v", err)
		}
		bad := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp)))
		if _, err := Writer["fs"](bad); err == nil {
			t.Fatalf("writer 未对未知字段报错")
		}
		if _, err := Writer["discard"](nil); err != nil {
			t.Fatalf("discard: %v", err)
		}
	})
}
