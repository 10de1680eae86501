package tier

const (
	Pro     Name = "pro"
	Premium Name = "premium"
)

const (
	FeatureBasicChat         Feature = "basic_chat"
	FeatureAdvancedChat      Feature = "advanced_chat"
	FeatureFileUpload        Feature = "file_upload"
	FeaturePrioritySupport   Feature = "priority_support"
	FeatureCustomModels      Feature = "custom_models"
	FeatureAPIAccess         Feature = "api_access"
	FeatureTeamCollaboration Feature = "team_collaboration"
)

const (
	QuotaAPICalls     QuotaName = "api_calls"
	QuotaChatMessages QuotaName = "chat_messages"
	QuotaFileUploads  QuotaName = "file_uploads"
)

const CapMaxFileSizeMB CapName = "max_file_size_mb"

// DefaultTiers returns the built-in free/pro/premium ladder. Price references
// are supplied by the caller because they differ between provider accounts.
func DefaultTiers(proPrice, premiumPrice string) []Tier {
	return []Tier{
		{
			Name:        Free,
			DisplayName: "Free",
			Rank:        0,
			Features:    []Feature{FeatureBasicChat},
			Quotas: map[QuotaName]Quota{
				QuotaAPICalls:     {Limit: 100, Window: Daily},
				QuotaChatMessages: {Limit: 50, Window: Daily},
				QuotaFileUploads:  {Limit: 5, Window: Monthly},
			},
			Caps: map[CapName]int64{CapMaxFileSizeMB: 10},
		},
		{
			Name:        Pro,
			DisplayName: "Pro",
			Rank:        1,
			PriceRef:    proPrice,
			Features:    []Feature{FeatureAdvancedChat, FeatureFileUpload, FeaturePrioritySupport},
			Quotas: map[QuotaName]Quota{
				QuotaAPICalls:     {Limit: 1000, Window: Daily},
				QuotaChatMessages: {Limit: 500, Window: Daily},
				QuotaFileUploads:  {Limit: 50, Window: Monthly},
			},
			Caps: map[CapName]int64{CapMaxFileSizeMB: 100},
		},
		{
			Name:        Premium,
			DisplayName: "Premium",
			Rank:        2,
			PriceRef:    premiumPrice,
			Features:    []Feature{FeatureCustomModels, FeatureAPIAccess, FeatureTeamCollaboration},
			Quotas: map[QuotaName]Quota{
				QuotaAPICalls:     {Limit: 10000, Window: Daily},
				QuotaChatMessages: {Limit: 5000, Window: Daily},
				QuotaFileUploads:  {Limit: 500, Window: Monthly},
			},
			Caps: map[CapName]int64{CapMaxFileSizeMB: 1000},
		},
	}
}
