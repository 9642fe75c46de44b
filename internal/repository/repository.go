package repository

import (
	"context"
	"errors"
	"facility_sync/internal/domain"
)

var ErrNotFound = errors.New("không tìm thấy bản ghi")
var ErrDuplicateEntry = errors.New("bản ghi đã tồn tại")

// ResourceRepository là hợp đồng với kho lưu trữ bền vững (PostgreSQL).
// Chỉ cần read-your-writes trong một process; không yêu cầu transaction
// qua nhiều resource. Store là nơi duy nhất gọi Save.
type ResourceRepository interface {
	Load(ctx context.Context, resourceType domain.ResourceType) ([]domain.Resource, error)
	Save(ctx context.Context, res domain.Resource) error
}
