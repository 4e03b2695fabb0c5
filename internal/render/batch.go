package render

// GroupSize is the number of pages per group needed to fit pageCount pages
// into at most maxGroups groups. It is never less than 1.
func GroupSize(pageCount, maxGroups int) int {
	if maxGroups < 1 {
		maxGroups = 1
	}
	size := (pageCount + maxGroups - 1) / maxGroups
	if size < 1 {
		size = 1
	}
	return size
}

// Batch partitions pages into consecutive groups of GroupSize pages. Every
// group but the last has the same size. No pages yields no groups.
// A maxGroups below 1 is treated as 1.
func Batch[T any](pages []T, maxGroups int) [][]T {
	if len(pages) == 0 {
		return nil
	}
	size := GroupSize(len(pages), maxGroups)
	groups := make([][]T, 0, (len(pages)+size-1)/size)
	for start := 0; start < len(pages); start += size {
		end := min(start+size, len(pages))
		groups = append(groups, pages[start:end:end])
	}
	return groups
}

// Plan returns the group sizes Batch would produce for pageCount pages
func Plan(pageCount, maxGroups int) []int {
	if pageCount <= 0 {
		return nil
	}
	size := GroupSize(pageCount, maxGroups)
	sizes := make([]int, 0, (pageCount+size-1)/size)
	for remaining := pageCount; remaining > 0; remaining -= size {
		sizes = append(sizes, min(size, remaining))
	}
	return sizes
}
