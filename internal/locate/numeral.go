package locate

import (
	"strconv"

	"golang.org/x/text/width"
)

// numerals covers 一..二十 plus the bare 百.
var numerals = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5,
	"六": 6, "七": 7, "八": 8, "九": 9, "十": 10,
	"十一": 11, "十二": 12, "十三": 13, "十四": 14, "十五": 15,
	"十六": 16, "十七": 17, "十八": 18, "十九": 19, "二十": 20,
	"百": 100,
}

// ChineseNumeral converts the number in a "第N条" hint. Arabic digits,
// half or full width, parse directly and Chinese numerals are looked up
// in a table covering 1..20. Anything else, such as 二十一 or 一百零五,
// yields 1.
func ChineseNumeral(s string) int {
	s = width.Narrow.String(s)
	if isDigits(s) {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	if n, ok := numerals[s]; ok {
		return n
	}
	return 1
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
