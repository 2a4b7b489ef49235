// Package partition divides the rows of a grid into equal-size blocks and
// deals them out to workers round-robin.
//
// With height H, granularity g and parallelism p there are g*p tiles of
// B = H / (g*p) rows each. Worker id owns the blocks starting at
//
//	id*B, (p+id)*B, (2p+id)*B, ...
//
// while the block fits below CoverageRows = H - H%B. The trailing H%B rows
// are the coverage gap. With RemainderGap (the default) they are not
// assigned to anybody and stay zero. With RemainderLastWorker they become one
// extra block owned by worker p-1.
//
// Blocks never overlap; workers may write their rows without coordination.
package partition
