package registry

import (
	"bytes"
	"encoding/json"

	"bboxbisect/pkg/contract"
	jhelper "bboxbisect/plugins/diagnoser/javahelper"
	segfile "bboxbisect/plugins/extractor/segfile"
	pcmd "bboxbisect/plugins/processor/command"
	pmock "bboxbisect/plugins/processor/mock"
	rfs "bboxbisect/plugins/reader/filesystem"
	wfs "bboxbisect/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewExtractor 工厂签名：接收原样 JSON Options 与已装配的 Reader。
type NewExtractor func(raw json.RawMessage, r contract.Reader) (contract.Extractor, error)

// NewProcessor 工厂签名：接收原样 JSON Options。
type NewProcessor func(raw json.RawMessage) (contract.Processor, error)

// NewDiagnoser 工厂签名：接收原样 JSON Options；返回 nil 表示不诊断。
type NewDiagnoser func(raw json.RawMessage) (contract.Diagnoser, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 本地文件系统 Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 运行目录内的工作文件 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Extractor 工厂注册表。
var Extractor = map[string]NewExtractor{
	// segfile: 分段文本（tag x1 y1 _ x2 y2）抽取器
	"segfile": func(raw json.RawMessage, r contract.Reader) (contract.Extractor, error) {
		var opts segfile.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return segfile.New(r, &opts)
	},
}

// Processor 工厂注册表。
var Processor = map[string]NewProcessor{
	// command: 以子进程运行外部 Voronoi 工具
	"command": func(raw json.RawMessage) (contract.Processor, error) {
		var opts pcmd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pcmd.New(&opts)
	},
	// mock: 进程内确定性替身（测试与演练）
	"mock": func(raw json.RawMessage) (contract.Processor, error) {
		var opts pmock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pmock.New(&opts)
	},
}

// Diagnoser 工厂注册表。
var Diagnoser = map[string]NewDiagnoser{
	// none: 不做失败后诊断
	"none": func(raw json.RawMessage) (contract.Diagnoser, error) { return nil, nil },
	// javahelper: GeoPackage 转换 + 拓扑塌缩检查
	"javahelper": func(raw json.RawMessage) (contract.Diagnoser, error) {
		var opts jhelper.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return jhelper.New(&opts)
	},
}
