package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/publish-scheduler/internal/api/middleware"
	"github.com/d60-Lab/publish-scheduler/internal/apperr"
	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/service"
	"github.com/d60-Lab/publish-scheduler/pkg/response"
)

const dateLayout = "2006-01-02"

type createScheduleRequest struct {
	PostVariantID       string     `json:"post_variant_id"`
	ChannelConnectionID string     `json:"channel_connection_id"`
	RunAt               *time.Time `json:"run_at"`
	Timezone            string     `json:"timezone" binding:"omitempty,timezone"`
}

type updateScheduleRequest struct {
	RunAt               *time.Time `json:"run_at"`
	Timezone            *string    `json:"timezone" binding:"omitempty,timezone"`
	ChannelConnectionID *string    `json:"channel_connection_id"`
}

type listQuery struct {
	Status              string `form:"status"`
	ChannelConnectionID string `form:"channel_connection_id"`
	FromDate            string `form:"from_date"`
	ToDate              string `form:"to_date"`
	Page                int    `form:"page"`
	PageSize            int    `form:"page_size"`
}

// CreateSchedule 创建调度
// @Summary 创建发布调度
// @Tags 调度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createScheduleRequest true "调度信息"
// @Success 201 {object} response.Response{data=model.Schedule}
// @Failure 400 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /api/v1/schedules [post]
func (h *Handler) CreateSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	sch, err := h.scheduleService.CreateSchedule(c.Request.Context(), p, service.CreateScheduleInput{
		PostVariantID:       req.PostVariantID,
		ChannelConnectionID: req.ChannelConnectionID,
		RunAt:               req.RunAt,
		Timezone:            req.Timezone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sch)
}

// GetSchedule 调度详情（含发布记录）
// @Summary 查询调度详情
// @Tags 调度
// @Security BearerAuth
// @Param id path string true "调度ID"
// @Success 200 {object} response.Response{data=service.ScheduleDetail}
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/schedules/{id} [get]
func (h *Handler) GetSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	detail, err := h.scheduleService.GetSchedule(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// ListSchedules 分页查询
// @Summary 查询调度列表
// @Tags 调度
// @Security BearerAuth
// @Param status query string false "状态，逗号分隔"
// @Param channel_connection_id query string false "渠道连接ID"
// @Param from_date query string false "起始时间 RFC3339 或 YYYY-MM-DD"
// @Param to_date query string false "结束时间 RFC3339 或 YYYY-MM-DD"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=service.ScheduleList}
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/schedules [get]
func (h *Handler) ListSchedules(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperr.ErrInvalidFilter.WithMessage("%s", err.Error()))
		return
	}
	f, err := q.filter()
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.scheduleService.ListSchedules(c.Request.Context(), p, f, service.Pagination{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// Calendar 日历视图
// @Summary 按时间范围查询调度
// @Tags 调度
// @Security BearerAuth
// @Param from_date query string true "起始时间"
// @Param to_date query string true "结束时间"
// @Param status query string false "状态，逗号分隔"
// @Success 200 {object} response.Response{data=[]model.Schedule}
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/schedules/calendar [get]
func (h *Handler) Calendar(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperr.ErrInvalidFilter.WithMessage("%s", err.Error()))
		return
	}
	f, err := q.filter()
	if err != nil {
		response.Error(c, err)
		return
	}
	if f.From == nil || f.To == nil {
		response.Error(c, apperr.ErrInvalidFilter.WithMessage("from_date and to_date are required"))
		return
	}
	items, err := h.scheduleService.ListByDateRange(c.Request.Context(), p, *f.From, *f.To, f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// UpdateSchedule 修改调度
// @Summary 修改调度（仅 pending/failed）
// @Tags 调度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "调度ID"
// @Param request body updateScheduleRequest true "修改内容"
// @Success 200 {object} response.Response{data=model.Schedule}
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/v1/schedules/{id} [patch]
func (h *Handler) UpdateSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req updateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	sch, err := h.scheduleService.UpdateSchedule(c.Request.Context(), p, c.Param("id"), service.UpdateScheduleInput{
		RunAt:               req.RunAt,
		Timezone:            req.Timezone,
		ChannelConnectionID: req.ChannelConnectionID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sch)
}

// CancelSchedule 取消调度
// @Summary 取消调度（仅 pending/queued）
// @Tags 调度
// @Security BearerAuth
// @Param id path string true "调度ID"
// @Success 200 {object} response.Response{data=model.Schedule}
// @Failure 409 {object} response.ErrorResponse
// @Router /api/v1/schedules/{id}/cancel [post]
func (h *Handler) CancelSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sch, err := h.scheduleService.CancelSchedule(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sch)
}

// DeleteSchedule 删除调度
// @Summary 删除调度（默认软删除）
// @Tags 调度
// @Security BearerAuth
// @Param id path string true "调度ID"
// @Param permanent query bool false "物理删除"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/schedules/{id} [delete]
func (h *Handler) DeleteSchedule(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	permanent, _ := strconv.ParseBool(c.DefaultQuery("permanent", "false"))
	if err := h.scheduleService.DeleteSchedule(c.Request.Context(), p, c.Param("id"), permanent); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id"), "deleted": true, "permanent": permanent})
}

func principal(c *gin.Context) (model.Principal, bool) {
	p, err := middleware.PrincipalFrom(c)
	if err != nil {
		response.Unauthorized(c)
		return model.Principal{}, false
	}
	return p, true
}

// bindError timezone 规则失败单独映射
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "timezone" {
				response.Error(c, apperr.ErrInvalidTimezone)
				return
			}
		}
	}
	response.BadRequest(c, err.Error())
}

func (q listQuery) filter() (service.ListFilter, error) {
	var f service.ListFilter
	if q.Status != "" {
		for _, s := range strings.Split(q.Status, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, model.ScheduleStatus(s))
			}
		}
	}
	f.ChannelConnectionID = q.ChannelConnectionID
	if q.FromDate != "" {
		t, err := parseDate(q.FromDate, false)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if q.ToDate != "" {
		t, err := parseDate(q.ToDate, true)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	return f, nil
}

// parseDate 支持 RFC3339 与纯日期；纯日期作为结束边界时取当天末尾
func parseDate(v string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, apperr.ErrInvalidFilter.WithMessage("invalid date %q", v)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
