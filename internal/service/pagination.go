package service

import "github.com/noah-isme/siga-api/internal/models"

func buildPagination(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
