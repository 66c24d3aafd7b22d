// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// RenderForContact personalises template for one recipient.
func RenderForContact(template string, c model.Contact) string {
	return RenderTemplate(template, map[string]string{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"phone":      c.Phone,
	})
}
