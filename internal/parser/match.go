// match.go — распознавание статусных строк ботов.
// Шаблоны проверяются в фиксированном порядке, применяется первый совпавший.
// Числа разбираются по одному: испорченное значение пропускает только своё поле.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Info — поля, извлечённые из одной строки. nil — поле не найдено.
type Info struct {
	// Pattern — имя сработавшего шаблона
	Pattern string

	SlotCurrent   *int
	SlotTotal     *int
	QueueCurrent  *int
	QueueTotal    *int
	QueuePosition *int
	QueueTime     *int
	SpeedCurrent  *float64
	SpeedMin      *float64
	SpeedRecord   *float64

	Packet *PacketInfo
}

// PacketInfo — строка листинга пакета "#N  Kx [size] name".
type PacketInfo struct {
	ID   int
	Name string
	// Size — размер в байтах, -1 если не распознан
	Size int64
}

type pattern struct {
	name  string
	re    *regexp.Regexp
	apply func(m []string, info *Info)
}

var (
	speedToken = `([0-9][0-9.,]*)\s*([kmgt]?i?b)\s*/\s*s`

	reMin    = regexp.MustCompile(`(?i)min(?:imum)?\s*:?\s*` + speedToken)
	reRecord = regexp.MustCompile(`(?i)record\s*:?\s*` + speedToken)
	reQueue  = regexp.MustCompile(`(?i)queue\s*:?\s*(\S+?)\s*/\s*(\S+?)(?:[\s,]|$)`)
	reTime   = regexp.MustCompile(`(?i)(?:(\d+)\s*h)?\s*(\d+)\s*m(?:in)?(?:\s*(\d+)\s*s)?`)

	// Порядок важен: первый совпавший шаблон завершает разбор.
	patterns = []pattern{
		{
			name:  "slots_stars",
			re:    regexp.MustCompile(`(?i)\*\*.*?packs?\s*\*\*\s*(\S+)\s+of\s+(\S+)\s+slots?\s+open(.*)$`),
			apply: applySlots,
		},
		{
			name:  "slots_arrows",
			re:    regexp.MustCompile(`(?i)->\s*.*?packs?\s*<-\s*(\S+)\s+of\s+(\S+)\s+slots?\s+open(.*)$`),
			apply: applySlots,
		},
		{
			name: "bandwidth",
			re:   regexp.MustCompile(`(?i)\*\*\s*bandwidth\s+usage\s*\*\*\s*current\s*:?\s*` + speedToken + `(.*)$`),
			apply: func(m []string, info *Info) {
				info.SpeedCurrent = parseSpeed(m[1], m[2])
				applyTail(m[3], info)
			},
		},
		{
			name: "queue_position",
			re:   regexp.MustCompile(`(?i)queued?\b.*?\bposition\s*:?\s*(\S+)\s+of\s+(\S+)(.*)$`),
			apply: func(m []string, info *Info) {
				info.QueuePosition = parseCount(m[1])
				info.QueueTotal = parseCount(m[2])
				info.QueueTime = parseDuration(m[0])
			},
		},
		{
			name: "packet",
			re:   regexp.MustCompile(`(?i)^\s*#(\d+)\s+(\d+)x\s+\[\s*([^\]]*?)\s*\]\s+(.+?)\s*$`),
			apply: func(m []string, info *Info) {
				id, err := strconv.Atoi(m[1])
				if err != nil {
					return
				}
				size := int64(-1)
				if v, ok := parseSize(m[3]); ok {
					size = v
				}
				info.Packet = &PacketInfo{ID: id, Name: m[4], Size: size}
			},
		},
	}
)

// Match проверяет строку по всем известным шаблонам.
// Возвращает false, если ни один шаблон не подошёл.
func Match(line string) (Info, bool) {
	line = stripFormatting(line)
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		info := Info{Pattern: p.name}
		p.apply(m, &info)
		return info, true
	}
	return Info{}, false
}

func applySlots(m []string, info *Info) {
	info.SlotCurrent = parseCount(m[1])
	info.SlotTotal = parseCount(m[2])
	applyTail(m[3], info)
}

// applyTail разбирает необязательные поля после основной части строки.
func applyTail(tail string, info *Info) {
	if m := reMin.FindStringSubmatch(tail); m != nil {
		info.SpeedMin = parseSpeed(m[1], m[2])
	}
	if m := reRecord.FindStringSubmatch(tail); m != nil {
		info.SpeedRecord = parseSpeed(m[1], m[2])
	}
	if m := reQueue.FindStringSubmatch(tail); m != nil {
		info.QueueCurrent = parseCount(m[1])
		info.QueueTotal = parseCount(m[2])
	}
}

// stripFormatting убирает управляющие коды mIRC: цвет, жирный, подчёркивание.
func stripFormatting(s string) string {
	if !strings.ContainsAny(s, "\x02\x03\x0f\x16\x1d\x1f") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0x02, 0x0f, 0x16, 0x1d, 0x1f:
		case 0x03:
			// \x03NN[,NN]
			j := i + 1
			for n := 0; n < 2 && j < len(s) && isDigit(s[j]); n++ {
				j++
			}
			if j < len(s)-1 && s[j] == ',' && isDigit(s[j+1]) {
				j++
				for n := 0; n < 2 && j < len(s) && isDigit(s[j]); n++ {
					j++
				}
			}
			i = j - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// parseCount разбирает целое, допуская обрамление вида [12], (12), *12*.
func parseCount(tok string) *int {
	tok = strings.Trim(tok, "[](){}<>*#:,.;!|")
	v, err := strconv.Atoi(tok)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

// parseSpeed переводит число с единицей (kB, KB, MB…) в байты в секунду.
func parseSpeed(num, unit string) *float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
	if err != nil || v < 0 {
		return nil
	}
	v *= unitMultiplier(unit)
	return &v
}

// parseSize разбирает размер из листинга: "700M", "1.4G", "350k", "512".
func parseSize(tok string) (int64, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, false
	}
	i := len(tok)
	for i > 0 && !isDigit(tok[i-1]) {
		i--
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(tok[:i], ",", "."), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int64(v * unitMultiplier(tok[i:])), true
}

func unitMultiplier(unit string) float64 {
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit == "" {
		return 1
	}
	switch unit[0] {
	case 'k':
		return 1 << 10
	case 'm':
		return 1 << 20
	case 'g':
		return 1 << 30
	case 't':
		return 1 << 40
	default:
		return 1
	}
}

// parseDuration ищет в строке оценку ожидания вида "1h12m" и возвращает секунды.
func parseDuration(s string) *int {
	m := reTime.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	var total int
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return nil
		}
		total += v * mult
	}
	return &total
}
