package contract

import "fmt"

// Manifest: 单文档的 chunk 顺序与 hash→文件名映射。
// JSON 形状与磁盘文件保持一致：{"hashes":{},"sequence":[],"title":"","options":""}
// Options 为生成时 SSML 选项的指纹；与当前配置不同即需重建。
type Manifest struct {
	Hashes   map[string]string `json:"hashes"`
	Sequence []string          `json:"sequence"`
	Title    string            `json:"title"`
	Options  string            `json:"options,omitempty"`
}

func NewManifest() Manifest {
	return Manifest{Hashes: map[string]string{}, Sequence: []string{}}
}

// Add 追加一个 chunk；相同 hash 重复出现时序列中保留多次。
func (m *Manifest) Add(hash, file string) {
	if m.Hashes == nil {
		m.Hashes = map[string]string{}
	}
	m.Hashes[hash] = file
	m.Sequence = append(m.Sequence, hash)
}

// Validate: 序列中的每个 hash 必须在 Hashes 中有文件名。
func (m Manifest) Validate() error {
	for i, h := range m.Sequence {
		if _, ok := m.Hashes[h]; !ok {
			return fmt.Errorf("%w: sequence[%d]=%s has no file", ErrManifestInvalid, i, h)
		}
	}
	return nil
}
