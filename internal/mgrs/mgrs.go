// Package mgrs converts between WGS84 geographic coordinates and
// Military Grid Reference System strings.
//
// FromMGRS resolves a grid reference to the center of its precision
// cell, so a 10-digit reference round-trips to within one meter.
package mgrs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidCoordinate = errors.New("mgrs: coordinate outside MGRS coverage")
	ErrInvalidFormat     = errors.New("mgrs: invalid grid reference")
)

const (
	// WGS84 ellipsoid.
	semiMajorAxis = 6378137.0
	eccSquared    = 0.00669438
	scaleFactor   = 0.9996

	falseEasting  = 500000.0
	falseNorthing = 10000000.0

	// DefaultPrecision is digits per ordinate: 5 gives 1 m cells.
	DefaultPrecision = 5
)

// Latitude bands C..X (I and O skipped), 8 degrees each from -80,
// band X stretched to 84.
const latBandLetters = "CDEFGHJKLMNPQRSTUVWX"

// 100 km square letter origins repeat in sets of six zones.
const (
	setOriginColumnLetters = "AJSAJS"
	setOriginRowLetters    = "AFAFAF"
)

type utmCoord struct {
	zone     int
	band     byte
	easting  float64
	northing float64
}

// ToMGRS converts a latitude/longitude pair to a grid reference with
// DefaultPrecision digits per ordinate.
func ToMGRS(lat, lon float64) (string, error) {
	return ToMGRSPrecision(lat, lon, DefaultPrecision)
}

// ToMGRSPrecision converts with precision digits per ordinate (0-5).
func ToMGRSPrecision(lat, lon float64, precision int) (string, error) {
	if precision < 0 || precision > 5 {
		return "", fmt.Errorf("%w: precision %d (want 0-5)", ErrInvalidFormat, precision)
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinate, lat, lon)
	}
	// UTM (and therefore MGRS grid zones) only cover -80..84.
	if lat < -80 || lat > 84 {
		return "", fmt.Errorf("%w: latitude %v beyond UTM coverage", ErrInvalidCoordinate, lat)
	}

	utm := llToUTM(lat, lon)

	eDigits := fmt.Sprintf("%05d", int(math.Floor(utm.easting))%100000)
	nDigits := fmt.Sprintf("%05d", int(math.Floor(utm.northing))%100000)

	return fmt.Sprintf("%d%c%s%s%s",
		utm.zone, utm.band,
		squareIdentifier(utm.zone, utm.easting, utm.northing),
		eDigits[:precision], nDigits[:precision]), nil
}

// FromMGRS parses a grid reference and returns the latitude/longitude
// of its precision cell's center.
func FromMGRS(ref string) (lat, lon float64, err error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(ref), " ", ""))
	if s == "" {
		return 0, 0, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	// Grid zone designator: 1-2 digits then a band letter.
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i > 2 {
		return 0, 0, fmt.Errorf("%w: %q has a malformed zone number", ErrInvalidFormat, ref)
	}
	zone, _ := strconv.Atoi(s[:i])
	if zone < 1 || zone > 60 {
		return 0, 0, fmt.Errorf("%w: zone %d out of range", ErrInvalidFormat, zone)
	}
	if i >= len(s) {
		return 0, 0, fmt.Errorf("%w: %q missing latitude band", ErrInvalidFormat, ref)
	}
	band := s[i]
	if !strings.ContainsRune(latBandLetters, rune(band)) {
		return 0, 0, fmt.Errorf("%w: %q has invalid band letter %q", ErrInvalidFormat, ref, string(band))
	}
	i++

	if len(s)-i < 2 {
		return 0, 0, fmt.Errorf("%w: %q missing 100km square letters", ErrInvalidFormat, ref)
	}
	colLetter, rowLetter := s[i], s[i+1]
	i += 2

	digits := s[i:]
	if len(digits)%2 != 0 {
		return 0, 0, fmt.Errorf("%w: %q has an odd digit count", ErrInvalidFormat, ref)
	}
	precision := len(digits) / 2
	if precision > 5 {
		return 0, 0, fmt.Errorf("%w: %q exceeds 1m precision", ErrInvalidFormat, ref)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("%w: %q has non-numeric easting/northing", ErrInvalidFormat, ref)
		}
	}

	set := zoneSet(zone)
	e100k, err := eastingForLetter(colLetter, set)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, ref, err)
	}
	n100k, err := northingForLetter(rowLetter, set)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, ref, err)
	}

	// Row letters repeat every 2,000 km; disambiguate with the band's
	// minimum northing.
	minN := minNorthingForBand(band)
	for n100k < minN {
		n100k += 2000000
	}

	cell := math.Pow(10, float64(5-precision))
	easting := e100k
	northing := n100k
	if precision > 0 {
		e, _ := strconv.Atoi(digits[:precision])
		n, _ := strconv.Atoi(digits[precision:])
		easting += float64(e) * cell
		northing += float64(n) * cell
	}
	// Cell center.
	easting += cell / 2
	northing += cell / 2

	lat, lon = utmToLL(utmCoord{zone: zone, band: band, easting: easting, northing: northing})
	return lat, lon, nil
}

// llToUTM implements the standard transverse-mercator series
// (USGS Bulletin 1532 form). Inputs are pre-validated.
func llToUTM(lat, lon float64) utmCoord {
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180

	zone := int((lon+180)/6) + 1
	if lon == 180 {
		zone = 60
	}
	// Norway exception.
	if lat >= 56 && lat < 64 && lon >= 3 && lon < 12 {
		zone = 32
	}
	// Svalbard exceptions.
	if lat >= 72 && lat < 84 {
		switch {
		case lon >= 0 && lon < 9:
			zone = 31
		case lon >= 9 && lon < 21:
			zone = 33
		case lon >= 21 && lon < 33:
			zone = 35
		case lon >= 33 && lon < 42:
			zone = 37
		}
	}

	lonOrigin := float64((zone-1)*6 - 180 + 3)
	lonOriginRad := lonOrigin * math.Pi / 180

	e2 := eccSquared
	ep2 := e2 / (1 - e2)

	n := semiMajorAxis / math.Sqrt(1-e2*math.Sin(latRad)*math.Sin(latRad))
	t := math.Tan(latRad) * math.Tan(latRad)
	c := ep2 * math.Cos(latRad) * math.Cos(latRad)
	a := math.Cos(latRad) * (lonRad - lonOriginRad)

	m := semiMajorAxis * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*latRad -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*latRad) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*latRad) -
		(35*e2*e2*e2/3072)*math.Sin(6*latRad))

	easting := scaleFactor*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120) + falseEasting

	northing := scaleFactor * (m + n*math.Tan(latRad)*
		(a*a/2+(5-t+9*c+4*c*c)*a*a*a*a/24+
			(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))
	if lat < 0 {
		northing += falseNorthing
	}

	return utmCoord{zone: zone, band: bandLetter(lat), easting: easting, northing: northing}
}

func utmToLL(u utmCoord) (lat, lon float64) {
	e2 := eccSquared
	ep2 := e2 / (1 - e2)
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	x := u.easting - falseEasting
	y := u.northing
	if u.band < 'N' {
		y -= falseNorthing
	}

	lonOrigin := float64((u.zone-1)*6 - 180 + 3)

	m := y / scaleFactor
	mu := m / (semiMajorAxis * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu + (3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu)

	sinPhi1 := math.Sin(phi1)
	cosPhi1 := math.Cos(phi1)

	n1 := semiMajorAxis / math.Sqrt(1-e2*sinPhi1*sinPhi1)
	t1 := math.Tan(phi1) * math.Tan(phi1)
	c1 := ep2 * cosPhi1 * cosPhi1
	r1 := semiMajorAxis * (1 - e2) / math.Pow(1-e2*sinPhi1*sinPhi1, 1.5)
	d := x / (n1 * scaleFactor)

	latRad := phi1 - (n1*math.Tan(phi1)/r1)*
		(d*d/2-(5+3*t1+10*c1-4*c1*c1-9*ep2)*d*d*d*d/24+
			(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d*d*d*d*d*d/720)

	lonRad := (d - (1+2*t1+c1)*d*d*d/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d*d*d*d*d/120) / cosPhi1

	return latRad * 180 / math.Pi, lonOrigin + lonRad*180/math.Pi
}

func bandLetter(lat float64) byte {
	idx := int(math.Floor((lat + 80) / 8))
	if idx < 0 {
		idx = 0
	}
	if idx > 19 { // band X covers 72..84
		idx = 19
	}
	return latBandLetters[idx]
}

func zoneSet(zone int) int {
	set := zone % 6
	if set == 0 {
		set = 6
	}
	return set
}

// squareIdentifier returns the two-letter 100km square id for a UTM
// position within the given zone.
func squareIdentifier(zone int, easting, northing float64) string {
	set := zoneSet(zone)
	col := int(math.Floor(easting / 100000))
	row := int(math.Floor(northing/100000)) % 20

	colOrigin := setOriginColumnLetters[set-1]
	rowOrigin := setOriginRowLetters[set-1]

	// Columns run 1..8 within a set.
	colLetter := advanceLetter(colOrigin, col-1, 'Z')
	rowLetter := advanceLetter(rowOrigin, row, 'V')
	return string(colLetter) + string(rowLetter)
}

// advanceLetter steps n letters forward from origin, skipping I and O
// and wrapping past last back to 'A'.
func advanceLetter(origin byte, n int, last byte) byte {
	c := origin
	for ; n > 0; n-- {
		c++
		if c == 'I' {
			c++
		}
		if c == 'O' {
			c++
		}
		if c > last {
			c = 'A'
		}
	}
	return c
}

func eastingForLetter(letter byte, set int) (float64, error) {
	if letter == 'I' || letter == 'O' || letter < 'A' || letter > 'Z' {
		return 0, fmt.Errorf("invalid column letter %q", string(letter))
	}
	origin := setOriginColumnLetters[set-1]
	col := 1
	c := origin
	for c != letter {
		c++
		if c == 'I' {
			c++
		}
		if c == 'O' {
			c++
		}
		if c > 'Z' {
			c = 'A'
		}
		col++
		if col > 8 {
			return 0, fmt.Errorf("column letter %q not in set %d", string(letter), set)
		}
	}
	return float64(col) * 100000, nil
}

func northingForLetter(letter byte, set int) (float64, error) {
	if letter == 'I' || letter == 'O' || letter < 'A' || letter > 'V' {
		return 0, fmt.Errorf("invalid row letter %q", string(letter))
	}
	origin := setOriginRowLetters[set-1]
	row := 0
	c := origin
	for c != letter {
		c++
		if c == 'I' {
			c++
		}
		if c == 'O' {
			c++
		}
		if c > 'V' {
			c = 'A'
		}
		row++
		if row > 19 {
			return 0, fmt.Errorf("row letter %q not in set %d", string(letter), set)
		}
	}
	return float64(row) * 100000, nil
}

// minNorthingForBand gives the lowest UTM northing (false-northing
// convention south of the equator) occurring in a latitude band.
func minNorthingForBand(band byte) float64 {
	switch band {
	case 'C':
		return 1100000
	case 'D':
		return 2000000
	case 'E':
		return 2800000
	case 'F':
		return 3700000
	case 'G':
		return 4600000
	case 'H':
		return 5500000
	case 'J':
		return 6400000
	case 'K':
		return 7300000
	case 'L':
		return 8200000
	case 'M':
		return 9100000
	case 'N':
		return 0
	case 'P':
		return 800000
	case 'Q':
		return 1700000
	case 'R':
		return 2600000
	case 'S':
		return 3500000
	case 'T':
		return 4400000
	case 'U':
		return 5300000
	case 'V':
		return 6200000
	case 'W':
		return 7000000
	default: // X
		return 7900000
	}
}
