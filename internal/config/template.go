package config

import "encoding/json"

// DefaultTemplateConfig 返回一个默认配置模板：
// - 输入/范围留空，由 CLI 或 ENV 补齐；
// - 处理器为 command，工具路径需填写；
// - Options 列出全部键，值取中性默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.Input = ""
	cfg.OutDir = "out"
	cfg.BBox = ""
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.Extractor = json.RawMessage(`{
  "margin": 10,
  "containment": "any",
  "boundary": true,
  "buf_size": 65536
}`)
	cfg.Options.Processor = json.RawMessage(`{
  "path": "",
  "args": [],
  "timeout_seconds": 0,
  "capture_output": true
}`)
	// diagnoser=none 时忽略；javahelper 需填写 classpath
	cfg.Options.Diagnoser = json.RawMessage(`{}`)
	return cfg
}
