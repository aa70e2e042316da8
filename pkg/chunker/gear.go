package chunker

// gearTable 是 Gear 滚动哈希的 256 项随机表
// 用固定种子的 splitmix64 生成，所有节点和客户端得到同一张表
var gearTable = func() [256]uint64 {
	var t [256]uint64
	state := uint64(0x6e646e7265706f31)
	for i := range t {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		t[i] = z ^ (z >> 31)
	}
	return t
}()
