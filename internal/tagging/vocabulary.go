// Package tagging 提供自动打标用的标签词表与标签向量缓存。
package tagging

// Tag 是词表中的一个候选标签。Name 是喂给模型的英文标签，
// Label 是写入数据库和文件名的展示语言标签。
type Tag struct {
	Name  string
	Label string
}

// Vocabulary 是固定的候选标签词表。顺序即缓存文件中向量的顺序，
// 运行期不允许修改；编辑词表后缓存会因数量校验失败而自动重算。
var Vocabulary = []Tag{
	// 自然景观
	{"beach", "海滩"},
	{"ocean", "海洋"},
	{"waves", "海浪"},
	{"sand", "沙滩"},
	{"sunset", "日落"},
	{"sunrise", "日出"},
	{"sky", "天空"},
	{"clouds", "云朵"},
	{"mountains", "山脉"},
	{"forest", "森林"},
	{"trees", "树木"},
	{"grass", "草地"},
	{"flowers", "花朵"},
	{"waterfall", "瀑布"},
	{"river", "河流"},
	{"lake", "湖泊"},
	{"snow", "雪景"},
	{"rain", "雨景"},

	// 城市景观
	{"city", "城市"},
	{"building", "建筑"},
	{"skyscraper", "高楼"},
	{"street", "街道"},
	{"road", "道路"},
	{"bridge", "桥梁"},
	{"park", "公园"},
	{"square", "广场"},
	{"night scene", "夜景"},
	{"lights", "灯光"},

	// 人物
	{"person", "人"},
	{"man", "男人"},
	{"woman", "女人"},
	{"child", "孩子"},
	{"elderly", "老人"},
	{"young person", "年轻人"},
	{"smile", "微笑"},
	{"expression", "表情"},
	{"action", "动作"},
	{"sports", "运动"},
	{"dance", "舞蹈"},

	// 动物
	{"animal", "动物"},
	{"dog", "狗"},
	{"cat", "猫"},
	{"bird", "鸟"},
	{"fish", "鱼"},
	{"horse", "马"},
	{"cow", "牛"},
	{"sheep", "羊"},
	{"chicken", "鸡"},
	{"butterfly", "蝴蝶"},

	// 交通工具
	{"car", "汽车"},
	{"bicycle", "自行车"},
	{"motorcycle", "摩托车"},
	{"bus", "公交车"},
	{"train", "火车"},
	{"airplane", "飞机"},
	{"ship", "船"},

	// 食物
	{"food", "食物"},
	{"fruit", "水果"},
	{"vegetables", "蔬菜"},
	{"bread", "面包"},
	{"cake", "蛋糕"},
	{"coffee", "咖啡"},
	{"tea", "茶"},
	{"drink", "饮料"},

	// 颜色
	{"red", "红色"},
	{"blue", "蓝色"},
	{"green", "绿色"},
	{"yellow", "黄色"},
	{"orange", "橙色"},
	{"purple", "紫色"},
	{"pink", "粉色"},
	{"white", "白色"},
	{"black", "黑色"},
	{"gray", "灰色"},

	// 时间
	{"daytime", "白天"},
	{"night", "夜晚"},
	{"dusk", "黄昏"},
	{"dawn", "黎明"},
	{"morning", "早晨"},
	{"afternoon", "下午"},
	{"evening", "傍晚"},

	// 天气
	{"sunny", "晴天"},
	{"cloudy", "阴天"},
	{"rainy", "雨天"},
	{"snowy", "雪天"},
	{"foggy", "雾天"},
	{"wind", "风"},

	// 活动
	{"work", "工作"},
	{"study", "学习"},
	{"game", "游戏"},
	{"music", "音乐"},
	{"movie", "电影"},
	{"reading", "阅读"},
	{"cooking", "烹饪"},
	{"cleaning", "清洁"},
	{"shopping", "购物"},
	{"travel", "旅行"},

	// 情感
	{"happy", "快乐"},
	{"sad", "悲伤"},
	{"angry", "愤怒"},
	{"calm", "平静"},
	{"excited", "兴奋"},
	{"relaxed", "放松"},
	{"nervous", "紧张"},

	// 技术
	{"computer", "电脑"},
	{"phone", "手机"},
	{"camera", "相机"},
	{"television", "电视"},
	{"screen", "屏幕"},
	{"keyboard", "键盘"},
	{"mouse", "鼠标"},

	// 抽象概念
	{"beautiful", "美丽"},
	{"elegant", "优雅"},
	{"modern", "现代"},
	{"traditional", "传统"},
	{"simple", "简单"},
	{"complex", "复杂"},
	{"bright", "明亮"},
	{"dark", "黑暗"},
	{"warm", "温暖"},
	{"cold", "寒冷"},
	{"quiet", "安静"},
	{"noisy", "喧闹"},
}
