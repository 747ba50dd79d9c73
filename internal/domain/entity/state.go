package entity

// PipelineState состояние жизненного цикла конвейера
type PipelineState string

const (
	StateUnloaded PipelineState = "unloaded" // Модели не загружены
	StateLoaded   PipelineState = "loaded"   // Модели загружены
	StateWarmed   PipelineState = "warmed"   // Модели прогреты
	StateServing  PipelineState = "serving"  // Обработан хотя бы один кадр
	StateCleaned  PipelineState = "cleaned"  // Модели освобождены
)

// CanLoad из этих состояний допустима загрузка
func (s PipelineState) CanLoad() bool {
	return s == StateUnloaded || s == StateCleaned
}

// CanWarmUp прогрев только после загрузки
func (s PipelineState) CanWarmUp() bool {
	return s == StateLoaded
}

// CanPredict кадры принимаются только прогретым конвейером
func (s PipelineState) CanPredict() bool {
	return s == StateWarmed || s == StateServing
}
