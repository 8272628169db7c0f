package distance

// editCost runs the classic edit-distance recurrence over two sequences of
// length n and m, with substitution cost sub(i, j), deletion cost del (drop an
// element of the first sequence) and insertion cost ins (take an element of
// the second). Only two rows are kept.
func editCost(n, m int, sub func(i, j int) float64, del, ins float64) float64 {
	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = prev[j-1] + ins
	}
	for i := 1; i <= n; i++ {
		cur[0] = prev[0] + del
		for j := 1; j <= m; j++ {
			cur[j] = min(
				prev[j]+del,
				cur[j-1]+ins,
				prev[j-1]+sub(i-1, j-1),
			)
		}
		prev, cur = cur, prev
	}
	return prev[m]
}

// normLen is the edit-distance normaliser max(n, m, 1).
func normLen(n, m int) float64 {
	return float64(max(n, m, 1))
}
