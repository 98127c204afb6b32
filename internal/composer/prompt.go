package composer

import "strings"

const guardrails = `Bạn là trợ lý mua sắm AI của StreamCart, một nền tảng thương mại điện tử.

QUY TẮC:
- Chỉ trả lời các câu hỏi liên quan đến mua sắm trên StreamCart: sản phẩm, cửa hàng, flash sale, đơn hàng và chính sách của nền tảng.
- Chỉ sử dụng thông tin được cung cấp bên dưới. Không bịa đặt sản phẩm, giá, tồn kho hay chương trình khuyến mãi. Nếu thiếu thông tin, hãy nói rõ và gợi ý người dùng cách tìm thêm.
- Không bao giờ tiết lộ mã định danh (ID) nội bộ của sản phẩm, cửa hàng hay người dùng.
- Trả lời bằng ngôn ngữ người dùng sử dụng; mặc định là tiếng Việt. Giữ giọng văn thân thiện, ngắn gọn và chuyên nghiệp.`

// BuildPrompt renders the guardrails, the context blocks and the raw user
// message into one prompt. Identical inputs always produce identical output.
func BuildPrompt(c Context, message string) string {
	var sb strings.Builder
	sb.WriteString(guardrails)

	section(&sb, "THÔNG TIN SẢN PHẨM", orDefault(c.ProductsText, NoProductsText))
	section(&sb, "THÔNG TIN CỬA HÀNG", orDefault(c.ShopsText, NoShopsText))
	section(&sb, "FLASH SALE", orDefault(c.FlashSalesText, NoFlashSalesText))
	if c.PolicyText != "" {
		section(&sb, "CHÍNH SÁCH LIÊN QUAN", c.PolicyText)
	}

	sb.WriteString("\n\nCÂU HỎI CỦA NGƯỜI DÙNG: ")
	sb.WriteString(strings.TrimSpace(message))
	sb.WriteString("\n")
	return sb.String()
}

func section(sb *strings.Builder, title, body string) {
	sb.WriteString("\n\n### ")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(body)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
