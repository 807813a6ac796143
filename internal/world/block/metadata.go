package block

// Metadata состояние блока: именованные свойства и их значения
type Metadata map[string]interface{}

// Clone возвращает поверхностную копию метаданных
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
