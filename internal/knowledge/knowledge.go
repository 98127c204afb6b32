// Package knowledge holds the static StreamCart policy snippets that are
// injected into prompts when a message touches on them.
package knowledge

import (
	"strings"

	"github.com/kalambet/cartbot/internal/intent"
)

// Entry is one policy topic with its trigger keywords.
type Entry struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords"`
	Snippet  string   `json:"snippet"`
}

var entries = []Entry{
	{
		Topic:    "payment",
		Keywords: []string{"thanh toán", "trả tiền", "chuyển khoản", "cod", "payment", "pay"},
		Snippet: "THANH TOÁN: StreamCart hỗ trợ thanh toán online qua cổng thanh toán hoặc COD (thanh toán khi nhận hàng). " +
			"Đơn hàng chỉ được xác nhận khi thanh toán thành công hoặc xác nhận COD. " +
			"Thanh toán thất bại thì đơn hàng tự động hủy sau 30 phút.",
	},
	{
		Topic:    "shipping",
		Keywords: []string{"giao hàng", "vận chuyển", "phí ship", "ship", "shipping", "delivery"},
		Snippet: "VẬN CHUYỂN: Khách hàng cần cung cấp địa chỉ giao hàng hợp lệ và chính xác. " +
			"Shop chuẩn bị và bàn giao hàng cho đơn vị vận chuyển trong 1 ngày. " +
			"Giao không thành công nhiều lần có thể khiến đơn bị hủy.",
	},
	{
		Topic:    "returns",
		Keywords: []string{"đổi trả", "hoàn tiền", "trả hàng", "đổi hàng", "refund", "return"},
		Snippet: "ĐỔI TRẢ & HOÀN TIỀN: Đổi trả trong thời hạn chính sách của shop, thường 3 ngày kể từ khi giao thành công. " +
			"Sản phẩm phải còn nguyên tem, nhãn mác và chưa qua sử dụng (trừ sản phẩm lỗi). " +
			"Tiền được hoàn theo phương thức thanh toán ban đầu.",
	},
	{
		Topic:    "promotions",
		Keywords: []string{"khuyến mãi", "mã giảm", "voucher", "chính sách giá", "promotion", "coupon"},
		Snippet: "KHUYẾN MÃI: Giá hiển thị cho khách luôn là giá cuối cùng đã áp dụng giảm giá. " +
			"Chương trình khuyến mãi của shop phải được duyệt trước khi áp dụng.",
	},
	{
		Topic:    "support",
		Keywords: []string{"hỗ trợ", "liên hệ", "khiếu nại", "tổng đài", "support", "contact"},
		Snippet: "HỖ TRỢ KHÁCH HÀNG: 8h-22h hàng ngày qua chat trực tiếp hoặc mục Trợ giúp. " +
			"Khách hàng có quyền khiếu nại khi sản phẩm sai mô tả, lỗi hoặc giao không đúng cam kết.",
	},
	{
		Topic:    "order_tracking",
		Keywords: []string{"đơn hàng", "theo dõi", "trạng thái đơn", "tracking", "order"},
		Snippet: "THEO DÕI ĐƠN HÀNG: Trạng thái đơn được cập nhật theo thời gian thực: " +
			"Pending → Processing → Shipping → Completed/Canceled. " +
			"Sau khi đặt hàng, khách nhận thông tin chi tiết qua email hoặc thông báo.",
	},
	{
		Topic:    "flash_sale",
		Keywords: []string{"flash sale", "flashsale", "flash-sale", "giờ vàng"},
		Snippet: "FLASH SALE: Mỗi chương trình flash sale diễn ra theo khung giờ (slot) với số lượng giới hạn. " +
			"Giá flash sale chỉ áp dụng khi còn suất và trước thời điểm kết thúc; hết suất sẽ trở về giá thường.",
	},
	{
		Topic:    "open_shop",
		Keywords: []string{"mở shop", "đăng ký shop", "mở cửa hàng", "người bán", "seller", "vi phạm"},
		Snippet: "MỞ SHOP: Đăng ký shop với thông tin đầy đủ (tên, địa chỉ, số điện thoại) và chờ Admin duyệt trước khi kinh doanh. " +
			"Mỗi tài khoản chỉ quản lý một shop. Vi phạm (hàng giả, sai mô tả, giao chậm nhiều lần) bị xử lý " +
			"từ cảnh cáo, tạm ngưng đến đóng shop vĩnh viễn.",
	},
}

// All returns every entry in table order.
func All() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Match returns all entries with a keyword present in text, in table order.
func Match(text string) []Entry {
	lower := strings.ToLower(text)
	var out []Entry
	for _, e := range entries {
		for _, kw := range e.Keywords {
			if intent.ContainsWord(lower, kw) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Text joins the snippets of every matching entry with blank lines.
func Text(text string) string {
	return join(Match(text))
}

// FullText joins every snippet.
func FullText() string {
	return join(entries)
}

func join(list []Entry) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = e.Snippet
	}
	return strings.Join(parts, "\n\n")
}
