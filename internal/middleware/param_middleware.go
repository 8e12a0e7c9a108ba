package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ExtractUintParam создает middleware для извлечения и валидации числового параметра URL.
// paramName - имя параметра в URL (например, "id").
// contextKey - ключ, под которым значение будет сохранено в контексте Gin.
func ExtractUintParam(paramName, contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.Param(paramName)
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid %s", paramName)})
			c.Abort()
			return
		}
		// Сохраняем как uint для единообразия
		c.Set(contextKey, uint(id))
		c.Next()
	}
}

// допустимый формат кода присоединения: 6 заглавных букв или цифр
var joinCodeRe = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ExtractCodeParam создает middleware для извлечения кода присоединения викторины.
// Код нормализуется до верхнего регистра. Значение недопустимого формата
// отклоняется сразу, не доходя до хранилища и кеша.
func ExtractCodeParam(paramName, contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.ToUpper(strings.TrimSpace(c.Param(paramName)))
		if !joinCodeRe.MatchString(code) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Quiz not found"})
			c.Abort()
			return
		}
		c.Set(contextKey, code)
		c.Next()
	}
}
