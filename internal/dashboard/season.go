package dashboard

// Season names the band a month is drawn under.
type Season string

const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
)

// SeasonOf returns the northern-hemisphere season of month (1-12), or ""
// for anything else.
func SeasonOf(month int) Season {
	switch month {
	case 12, 1, 2:
		return SeasonWinter
	case 3, 4, 5:
		return SeasonSpring
	case 6, 7, 8:
		return SeasonSummer
	case 9, 10, 11:
		return SeasonAutumn
	default:
		return ""
	}
}
