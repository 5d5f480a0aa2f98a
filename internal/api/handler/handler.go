package handler

import (
	"github.com/d60-Lab/publish-scheduler/internal/service"
)

// Handler HTTP 处理器
type Handler struct {
	scheduleService service.ScheduleService
}

func NewHandler(scheduleService service.ScheduleService) *Handler {
	return &Handler{scheduleService: scheduleService}
}
