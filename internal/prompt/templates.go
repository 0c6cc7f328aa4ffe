package prompt

// Language selects the wording of prompts and the requested output language.
type Language string

const (
	English  Language = "English"
	Japanese Language = "日本語"
)

// Section is one block of a video prompt answer.
type Section string

const (
	SectionScene  Section = "scene"
	SectionAction Section = "action"
	SectionCamera Section = "camera"
	SectionStyle  Section = "style"
	SectionPrompt Section = "prompt"
)

// DefaultSections is the full answer layout, in output order.
var DefaultSections = []Section{SectionScene, SectionAction, SectionCamera, SectionStyle, SectionPrompt}

// Style is the motion direction for a video prompt.
type Style string

const (
	StyleNone      Style = "none"
	StyleCalm      Style = "calm"
	StyleDynamic   Style = "dynamic"
	StyleCinematic Style = "cinematic"
	StyleAnime     Style = "anime"
)

// DefaultStyle applies when a request leaves the style unset.
const DefaultStyle = StyleCinematic

var styleHints = map[Style]string{
	StyleCalm:      "Focus on gentle, slow movements. Camera should move slowly with smooth pans. Actions should be subtle like breathing, hair swaying, or soft expressions.",
	StyleDynamic:   "Focus on energetic, fast movements. Camera can use tracking shots or quick cuts. Actions should be dynamic with clear motion.",
	StyleCinematic: "Focus on dramatic, cinematic quality. Camera should use dolly movements or dramatic angles. Include emotional expressions and atmospheric lighting.",
	StyleAnime:     "Focus on anime-style movements. Include exaggerated expressions, wind effects, and dynamic poses typical of Japanese animation.",
}

var sectionTemplates = map[Language]map[Section]string{
	English: {
		SectionScene:  "**Scene**: [Describe the visual scene in detail based on the image]",
		SectionAction: "**Action**: [Describe the motion/movement to add - be specific about what moves and how]",
		SectionCamera: "**Camera**: [Describe camera movement: static, slow pan, zoom in/out, dolly, tracking, etc.]",
		SectionStyle:  "**Style**: [Describe the visual style and mood]",
		SectionPrompt: "---\n**Final Prompt for WAN 2.2**:\n[Write a single paragraph combining all elements. This should be copy-paste ready for WAN 2.2. Write in English, be concise but descriptive. Focus on motion and cinematic qualities.]",
	},
	Japanese: {
		SectionScene:  "**シーン**: [画像に基づいて視覚的なシーンを詳しく説明]",
		SectionAction: "**アクション**: [追加する動き・モーションを具体的に説明]",
		SectionCamera: "**カメラ**: [カメラの動き: 静止、スローパン、ズームイン/アウト、ドリー、トラッキングなど]",
		SectionStyle:  "**スタイル**: [視覚的なスタイルと雰囲気を説明]",
		SectionPrompt: "---\n**WAN 2.2用プロンプト**:\n[上記の要素をすべて組み合わせた1つの段落を書いてください。WAN 2.2にそのままコピー＆ペーストできるようにしてください。簡潔かつ描写的に。動きと映画的な品質に焦点を当ててください。]",
	},
}

type wording struct {
	videoSystem    string
	freeFormat     string
	sdPrompt       string
	generalImage   string
	styleDirection string
	additional     string
	userOnly       string
	closing        string

	analyzeSystemSD    string
	analyzeSystemPlain string
	originalPrompt     string
	negativePrompt     string
	parameters         string
	question           string
	defaultQuestion    string
}

var wordings = map[Language]wording{
	English: {
		videoSystem: "You are an expert in creating video generation prompts for WAN 2.2 (a text-to-video AI model).\n" +
			"Your task is to analyze the given image and its Stable Diffusion prompt, then generate a video prompt.\n\n" +
			"**IMPORTANT:** Output ONLY the sections specified below. Do NOT add any other sections. Keep each section concise (1-2 sentences).\n\n",
		freeFormat:     "Output in a free format.",
		sdPrompt:       "Original SD Prompt:\n",
		generalImage:   "This is a general image (not from Stable Diffusion).",
		styleDirection: "\n\nStyle Direction: ",
		additional:     "\n\nAdditional Instructions: ",
		userOnly:       "\n\nUser Instructions (IMPORTANT - follow these closely): ",
		closing:        "\n\nPlease generate a WAN 2.2 video prompt based on this image and information.",

		analyzeSystemSD:    "You are an image analysis expert. Evaluate the image generated with Stable Diffusion together with its prompt.",
		analyzeSystemPlain: "You are an image analysis expert. Examine the image carefully and answer the question.",
		originalPrompt:     "Original prompt:\n",
		negativePrompt:     "\n\nNegative prompt:\n",
		parameters:         "\n\nParameters: ",
		question:           "Question: ",
		defaultQuestion:    "Describe this image in detail.",
	},
	Japanese: {
		videoSystem: "あなたはWAN 2.2（テキストから動画を生成するAIモデル）向けの動画生成プロンプトを作成する専門家です。\n" +
			"与えられた画像とStable Diffusionのプロンプトを分析し、動画プロンプトを生成してください。\n\n" +
			"【重要】以下の指定されたセクションのみを出力してください。指定されていないセクションは出力しないでください。各セクションは簡潔に1-2文で書いてください。\n\n",
		freeFormat:     "自由な形式で出力してください。",
		sdPrompt:       "Original SD Prompt:\n",
		generalImage:   "This is a general image (not from Stable Diffusion).",
		styleDirection: "\n\nStyle Direction: ",
		additional:     "\n\nAdditional Instructions: ",
		userOnly:       "\n\nUser Instructions (IMPORTANT - follow these closely): ",
		closing:        "\n\nこの画像と情報に基づいて、WAN 2.2用の動画プロンプトを日本語で生成してください。",

		analyzeSystemSD:    "あなたは画像分析の専門家です。Stable Diffusionで生成された画像とそのプロンプトを評価してください。",
		analyzeSystemPlain: "あなたは画像分析の専門家です。画像をよく見て質問に答えてください。",
		originalPrompt:     "元のプロンプト:\n",
		negativePrompt:     "\n\nネガティブプロンプト:\n",
		parameters:         "\n\nパラメータ: ",
		question:           "質問: ",
		defaultQuestion:    "この画像を詳しく説明してください。",
	},
}
