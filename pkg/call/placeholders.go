package call

// CountPlaceholders returns the number of parameter markers in a SQL
// statement. It understands "?" markers, numbered "$n" markers and SQL
// Server "@pN" markers; numbered forms count as their highest number.
// Markers inside quoted strings, quoted identifiers and comments are
// ignored.
func CountPlaceholders(sql string) int {
	question, dollar, at := 0, 0, 0

	for i := 0; i < len(sql); i++ {
		switch c := sql[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(sql, i, c)
		case '[':
			for i++; i < len(sql) && sql[i] != ']'; i++ {
			}
		case '-':
			if i+1 < len(sql) && sql[i+1] == '-' {
				for i += 2; i < len(sql) && sql[i] != '\n'; i++ {
				}
			}
		case '/':
			if i+1 < len(sql) && sql[i+1] == '*' {
				i += 2
				for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
					i++
				}
				i++
			}
		case '?':
			question++
		case '$':
			n, end := readNumber(sql, i+1)
			if end > i+1 && n > dollar {
				dollar = n
			}
			i = end - 1
		case '@':
			if i+1 < len(sql) && (sql[i+1] == 'p' || sql[i+1] == 'P') && (i == 0 || !isIdent(sql[i-1])) {
				n, end := readNumber(sql, i+2)
				if end > i+2 && (end == len(sql) || !isIdent(sql[end])) && n > at {
					at = n
				}
				i = end - 1
			}
		}
	}
	return question + dollar + at
}

// skipQuoted returns the index of the closing quote of the literal that
// opens at start. A doubled quote is an escaped quote.
func skipQuoted(sql string, start int, q byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] == q {
			if i+1 < len(sql) && sql[i+1] == q {
				i++
				continue
			}
			return i
		}
	}
	return len(sql)
}

func readNumber(sql string, i int) (int, int) {
	n := 0
	for i < len(sql) && sql[i] >= '0' && sql[i] <= '9' {
		n = n*10 + int(sql[i]-'0')
		i++
	}
	return n, i
}

func isIdent(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
