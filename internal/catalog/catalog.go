// Package catalog 提供调度所依赖的 post / variant / 渠道连接的只读访问。
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/publish-scheduler/internal/apperr"
	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/internal/publisher"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
)

// Variant 调度服务需要的 variant 视图
type Variant struct {
	ID         string
	PostID     string
	OwnerID    string
	Platform   string
	PostStatus string
}

// ConnectionRef 渠道连接的归属视图，不含凭据
type ConnectionRef struct {
	ID       string
	OwnerID  string
	Platform string
}

// Cipher 解密渠道凭据
type Cipher interface {
	Decrypt(enc string) (string, error)
}

type Catalog struct {
	db     *gorm.DB
	cipher Cipher
}

func New(db *gorm.DB, cipher Cipher) *Catalog { return &Catalog{db: db, cipher: cipher} }

func (c *Catalog) loadVariant(ctx context.Context, id string) (*model.PostVariant, error) {
	var v model.PostVariant
	err := c.db.WithContext(ctx).Preload("Post").Where("id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && v.Post == nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVariant 校验 principal 是否拥有该 variant
func (c *Catalog) GetVariant(ctx context.Context, p model.Principal, id string) (*Variant, error) {
	v, err := c.loadVariant(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrVariantNotFound
	}
	if err != nil {
		return nil, err
	}
	if v.Post.OwnerID != p.ID {
		return nil, apperr.ErrAccessDenied
	}
	return &Variant{ID: v.ID, PostID: v.PostID, OwnerID: v.Post.OwnerID, Platform: v.Platform, PostStatus: v.Post.Status}, nil
}

// PromoteDraft draft -> scheduled，其他状态不变
func (c *Catalog) PromoteDraft(ctx context.Context, postID string) error {
	return c.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ? AND status = ?", postID, model.PostStatusDraft).
		Update("status", model.PostStatusScheduled).Error
}

// GetConnectionFor 校验 principal 是否拥有该渠道连接，不解密 token
func (c *Catalog) GetConnectionFor(ctx context.Context, p model.Principal, id string) (*ConnectionRef, error) {
	var conn model.ChannelConnection
	err := c.db.WithContext(ctx).Select("id", "owner_id", "platform").Where("id = ?", id).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	if conn.OwnerID != p.ID {
		return nil, apperr.ErrAccessDenied
	}
	return &ConnectionRef{ID: conn.ID, OwnerID: conn.OwnerID, Platform: conn.Platform}, nil
}

// GetContent 调度器读取待发布内容（不做 principal 校验）
func (c *Catalog) GetContent(ctx context.Context, variantID string) (*publisher.Content, error) {
	v, err := c.loadVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	var media []string
	for _, u := range strings.Split(v.MediaURLs, "\n") {
		if u = strings.TrimSpace(u); u != "" {
			media = append(media, u)
		}
	}
	return &publisher.Content{VariantID: v.ID, PostID: v.PostID, Body: v.Body, MediaURLs: media}, nil
}

// GetConnection 每次调用都重新读取并解密 token
func (c *Catalog) GetConnection(ctx context.Context, id string) (*publisher.Connection, error) {
	var conn model.ChannelConnection
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	token, err := c.cipher.Decrypt(conn.AccessTokenEnc)
	if err != nil {
		return nil, err
	}
	return &publisher.Connection{
		ID:                conn.ID,
		Platform:          conn.Platform,
		ExternalAccountID: conn.ExternalAccountID,
		AccessToken:       token,
	}, nil
}

// MarkPublished variant 与所属 post 置为 published
func (c *Catalog) MarkPublished(ctx context.Context, variantID string) error {
	now := time.Now().UTC()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v model.PostVariant
		if err := tx.Where("id = ?", variantID).First(&v).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.PostVariant{}).Where("id = ?", variantID).
			Updates(map[string]any{"status": model.PostStatusPublished, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Post{}).Where("id = ?", v.PostID).
			Updates(map[string]any{"status": model.PostStatusPublished, "updated_at": now}).Error
	})
}
