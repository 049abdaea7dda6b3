package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// scopeAll — область поиска без фильтра по координации.
const scopeAll = "all"

// ItemKey — ключ одного элемента.
func ItemKey(id int64) string {
	return fmt.Sprintf("item:inventory:%d:details", id)
}

// StatsKey — ключ агрегата по координации.
func StatsKey(coordinationID int64) string {
	return fmt.Sprintf("stats:coordination:%d:summary", coordinationID)
}

// GlobalStatsKey — ключ глобального агрегата.
func GlobalStatsKey() string {
	return "stats:global:summary"
}

// CatalogKey — ключ справочника.
func CatalogKey(kind string) string {
	return fmt.Sprintf("catalog:%s:all", kind)
}

// SearchKey — ключ страницы списка. shape — все параметры запроса
// (фильтры, курсор, лимит); одинаковые параметры дают одинаковый ключ.
func SearchKey(coordinationID *int64, shape any) (string, error) {
	raw, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации параметров запроса: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("search:coordination:%s:%s", scopeName(coordinationID), hex.EncodeToString(sum[:16])), nil
}

// scopePatterns — шаблоны ключей, зависящих от содержимого координации.
func scopePatterns(coordinationID int64) []string {
	id := strconv.FormatInt(coordinationID, 10)
	return []string{
		"stats:coordination:" + id + ":*",
		"search:coordination:" + id + ":*",
	}
}

// searchAllPattern — страницы списков без фильтра по координации.
func searchAllPattern() string {
	return "search:coordination:" + scopeAll + ":*"
}

func scopeName(coordinationID *int64) string {
	if coordinationID == nil {
		return scopeAll
	}
	return strconv.FormatInt(*coordinationID, 10)
}
