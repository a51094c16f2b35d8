// Package judge 编排一次争议裁决：先对证据做承诺，再对分析结果做证明，
// 校验两者引用同一份证据后生成投票承诺并落库。
package judge
