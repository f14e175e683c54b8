// internal/service/template_service.go
package service

import (
    "strings"
)

// RenderTemplate replaces every {key} in template with data[key].
// Unknown placeholders are left as they are.
func RenderTemplate(template string, data map[string]string) string {
    result := template
    for k, v := range data {
        result = strings.ReplaceAll(result, "{"+k+"}", v)
    }
    return result
}

// PickVariation rotates through a campaign's message variations by recipient
// position. It returns -1 when the campaign has none.
func PickVariation(variations []string, position int) (int, string) {
    if len(variations) == 0 {
        return -1, ""
    }
    i := position % len(variations)
    if i < 0 {
        i += len(variations)
    }
    return i, variations[i]
}
